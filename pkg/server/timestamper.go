package server

import (
	"sync"
	"time"

	"github.com/accumio/accumd/pkg/logging"
	"github.com/accumio/accumd/pkg/logstore"
)

// DefaultTimestampInterval is how often the emitter appends a timestamp
// record.
const DefaultTimestampInterval = 10 * time.Second

// Timestamper periodically appends one timestamp record through the shared
// store. It runs only with the in-process backend; a delegated device owns
// its own timestamps.
type Timestamper struct {
	store    logstore.Store
	interval time.Duration
	log      logging.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewTimestamper creates a stopped emitter. Intervals < 1 take the default.
func NewTimestamper(store logstore.Store, interval time.Duration, log logging.Logger) *Timestamper {
	if store == nil {
		panic("server: timestamper store cannot be nil")
	}
	if interval <= 0 {
		interval = DefaultTimestampInterval
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Timestamper{
		store:    store,
		interval: interval,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start launches the ticker goroutine.
func (t *Timestamper) Start() {
	t.startOnce.Do(func() {
		t.wg.Add(1)
		go t.loop()
	})
}

func (t *Timestamper) loop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := t.store.AppendTimestamp(time.Now()); err != nil {
				t.log.Errorf("append timestamp: %v", err)
				return
			}
		case <-t.done:
			return
		}
	}
}

// Stop terminates the emitter and waits for the goroutine to exit.
func (t *Timestamper) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
	})
	t.wg.Wait()
}
