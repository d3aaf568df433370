package main

import (
	"fmt"
	"os"
	"time"

	"github.com/accumio/accumd/pkg/config"
	"github.com/accumio/accumd/pkg/ringlog"
	"github.com/accumio/accumd/pkg/server"
)

// Log backend modes.
const (
	backendMemory = "memory"
	backendFile   = "file"
)

// Config is the full accumd configuration, loadable from accumd.yaml (or
// JSON) with ACCUMD_* environment overrides.
type Config struct {
	// Listen is the wire-protocol address, default ":9000".
	Listen string `yaml:"listen" json:"listen"`

	// MaxConns bounds concurrent client connections. 0 means unlimited.
	MaxConns int `yaml:"max_conns" json:"max_conns"`

	// Backend selects the log store: "memory" (in-process ring, timestamp
	// emitter active) or "file" (delegated byte-stream device, emitter off).
	Backend string `yaml:"backend" json:"backend"`

	// DevicePath is the device file for the "file" backend.
	DevicePath string `yaml:"device_path" json:"device_path"`

	// RingCapacity is the in-process ring size.
	RingCapacity int `yaml:"ring_capacity" json:"ring_capacity"`

	// TimestampInterval is the emitter period for the "memory" backend.
	TimestampInterval time.Duration `yaml:"timestamp_interval" json:"timestamp_interval"`

	// MetricsAddr serves Prometheus /metrics when non-empty, e.g. ":2112".
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`

	// NATSURL republishes log events to NATS when non-empty.
	NATSURL string `yaml:"nats_url" json:"nats_url"`

	// Tracing enables the stdout OpenTelemetry exporter.
	Tracing bool `yaml:"tracing" json:"tracing"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Listen:            server.DefaultAddr,
		Backend:           backendMemory,
		DevicePath:        "/var/tmp/accumd-device",
		RingCapacity:      ringlog.DefaultCapacity,
		TimestampInterval: server.DefaultTimestampInterval,
	}
}

// LoadConfig merges defaults, an optional config file, and environment
// overrides, then validates the result. An empty path falls back to
// "accumd.yaml" when that file exists.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		if _, err := os.Stat("accumd.yaml"); err == nil {
			path = "accumd.yaml"
		}
	}
	if path != "" {
		if err := config.Load(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := config.ApplyEnvOverrides("ACCUMD", &cfg); err != nil {
		return cfg, err
	}

	if err := config.ValidateAll(&cfg,
		config.RequiredFields("Listen", "Backend"),
		config.OneOf("Backend", backendMemory, backendFile),
		config.RangeValidator("RingCapacity", 1, 1<<16),
	); err != nil {
		return cfg, err
	}
	if cfg.Backend == backendFile && cfg.DevicePath == "" {
		return cfg, fmt.Errorf("config: device_path is required for the file backend")
	}
	return cfg, nil
}
