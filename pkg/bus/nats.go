package bus

import (
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/accumio/accumd/pkg/logging"
)

// NATSBridgeConfig configures the NATS republisher.
type NATSBridgeConfig struct {
	// URL is the NATS server URL, e.g. "nats://127.0.0.1:4222".
	URL string

	// Prefix is prepended to all subjects. Default: "accumd".
	Prefix string

	// Name is an optional NATS connection name.
	Name string

	// Topics lists the local topics to republish. Default: all well-known
	// topics.
	Topics []string
}

// NATSBridge republishes local bus topics to NATS as <prefix>.<topic>.
// It is a pure observer: nothing in the data path waits on it.
type NATSBridge struct {
	nc     *nats.Conn
	local  Bus
	prefix string
	topics []string
	mboxes map[string]Mailbox
	done   chan struct{}

	log logging.Logger
}

// NewNATSBridge connects to NATS and starts forwarding the configured topics.
func NewNATSBridge(local Bus, cfg NATSBridgeConfig, log logging.Logger) (*NATSBridge, error) {
	if local == nil {
		return nil, fmt.Errorf("bus: local bus cannot be nil")
	}
	if log == nil {
		log = logging.NewNopLogger()
	}

	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "accumd"
	}
	topics := cfg.Topics
	if len(topics) == 0 {
		topics = []string{TopicRecordAppended, TopicConnOpened, TopicConnClosed}
	}

	nc, err := nats.Connect(url, func(o *nats.Options) error {
		if cfg.Name != "" {
			o.Name = cfg.Name
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bus: connect to nats: %w", err)
	}

	br := &NATSBridge{
		nc:     nc,
		local:  local,
		prefix: prefix,
		topics: topics,
		mboxes: make(map[string]Mailbox, len(topics)),
		done:   make(chan struct{}),
		log:    log,
	}
	for _, topic := range topics {
		mbox := make(Mailbox, 256)
		br.mboxes[topic] = mbox
		local.Subscribe(topic, "nats-bridge", mbox)
		go br.forward(mbox)
	}
	return br, nil
}

func (br *NATSBridge) forward(mbox Mailbox) {
	for {
		select {
		case msg := <-mbox:
			subject := br.prefix + "." + msg.Topic
			if err := br.nc.Publish(subject, msg.Payload); err != nil {
				br.log.Warnf("nats publish %s: %v", subject, err)
			}
		case <-br.done:
			return
		}
	}
}

// Close detaches from the local bus and drains the NATS connection.
func (br *NATSBridge) Close() error {
	close(br.done)
	for topic, mbox := range br.mboxes {
		br.local.Unsubscribe(topic, "nats-bridge", mbox)
	}
	return br.nc.Drain()
}
