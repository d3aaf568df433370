// Command accumd runs the line-oriented TCP accumulator server: every
// newline-terminated record a client sends is appended to the shared command
// log and the log is echoed back from the connection's read cursor.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/accumio/accumd/pkg/bus"
	"github.com/accumio/accumd/pkg/logging"
	"github.com/accumio/accumd/pkg/logstore"
	obsprom "github.com/accumio/accumd/pkg/observability/prometheus"
	"github.com/accumio/accumd/pkg/server"
	"github.com/accumio/accumd/pkg/trace"
)

func main() {
	os.Exit(run())
}

func run() int {
	daemonFlag := flag.Bool("d", false, "run as a daemon (detach after bind)")
	configPath := flag.String("config", "", "path to config file (YAML or JSON)")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "accumd: %v\n", err)
		return 1
	}

	log := logging.NewLogger()

	traceShutdown, err := trace.Setup(cfg.Tracing)
	if err != nil {
		log.Errorf("tracing setup failed: %v", err)
		return 1
	}
	defer func() { _ = traceShutdown(context.Background()) }()

	var store logstore.Store
	var mem *logstore.MemStore
	switch cfg.Backend {
	case backendMemory:
		mem = logstore.NewMemStore(cfg.RingCapacity, log)
		store = mem
	case backendFile:
		fs, err := logstore.NewFileStore(cfg.DevicePath, log)
		if err != nil {
			log.Errorf("open log device: %v", err)
			return 1
		}
		store = fs
	}
	defer func() { _ = store.Close() }()

	events := bus.New()
	if mem != nil {
		mem.SetObserver(func(rec []byte) {
			events.Publish(bus.TopicRecordAppended, append([]byte(nil), rec...))
		})
	}

	if cfg.NATSURL != "" {
		bridge, err := bus.NewNATSBridge(events, bus.NATSBridgeConfig{
			URL:  cfg.NATSURL,
			Name: "accumd",
		}, log)
		if err != nil {
			log.Errorf("nats bridge: %v", err)
			return 1
		}
		defer func() { _ = bridge.Close() }()
	}

	if cfg.MetricsAddr != "" {
		exporter := obsprom.NewExporter()
		go func() {
			if err := exporter.Serve(cfg.MetricsAddr); err != nil {
				log.Errorf("metrics endpoint: %v", err)
			}
		}()
		defer func() { _ = exporter.Close() }()
	}

	srv := server.New(store, &server.Config{
		Addr:     cfg.Listen,
		MaxConns: cfg.MaxConns,
	}, log, events)

	// Bind before any daemon split so bind errors reach the invoking shell.
	var ln net.Listener
	if runningAsDaemonChild() {
		ln, err = inheritedListener()
		if err != nil {
			log.Errorf("%v", err)
			return 1
		}
	} else {
		ln, err = net.Listen("tcp", cfg.Listen)
		if err != nil {
			log.Errorf("bind %s: %v", cfg.Listen, err)
			return 1
		}
		if *daemonFlag {
			if err := daemonize(ln); err != nil {
				log.Errorf("%v", err)
				_ = ln.Close()
				return 1
			}
			_ = ln.Close()
			return 0
		}
	}

	var ts *server.Timestamper
	if cfg.Backend == backendMemory {
		ts = server.NewTimestamper(store, cfg.TimestampInterval, log)
		ts.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("caught signal %s, exiting", sig)
		_ = srv.Stop()
	}()

	err = srv.Serve(ln)
	if ts != nil {
		ts.Stop()
	}
	if err != nil {
		log.Errorf("server failed: %v", err)
		return 1
	}
	log.Info("server closed")
	return 0
}
