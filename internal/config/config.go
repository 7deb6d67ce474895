// Package config manages the cyudp-node daemon configuration using
// koanf/v2.
//
// Supports YAML files and environment variables, grounded on gobfd's
// own config package.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete cyudp-node configuration.
type Config struct {
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
	Transport TransportConfig `koanf:"transport"`
	Ports     []PortConfig    `koanf:"ports"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// TransportConfig holds the node-wide Cyphal/UDP transport parameters
// (section 4.6).
type TransportConfig struct {
	// NodeID is this node's 16-bit Cyphal node-ID. Ignored when
	// Anonymous is true.
	NodeID uint16 `koanf:"node_id"`

	// Anonymous puts the transport in anonymous mode: it may only
	// originate anonymous message transfers (section 3.2).
	Anonymous bool `koanf:"anonymous"`

	// Interfaces lists the local IPv4 addresses of the redundant
	// interfaces this transport binds to, 1 to 3 entries (section
	// 3.6).
	Interfaces []string `koanf:"interfaces"`

	// MTUBytes is the maximum single-frame payload size before a
	// transfer is split across multiple frames (section 3.3).
	MTUBytes int `koanf:"mtu_bytes"`

	// TXQueueCapacityBytes bounds each interface's output queue (
	// section 3.6).
	TXQueueCapacityBytes int `koanf:"tx_queue_capacity_bytes"`

	// TransferIDTimeout bounds how long a partially reassembled
	// transfer is held before being discarded (section 3.8).
	TransferIDTimeout time.Duration `koanf:"transfer_id_timeout"`
}

// InterfaceAddrs parses every entry of Interfaces as a netip.Addr.
func (tc TransportConfig) InterfaceAddrs() ([]netip.Addr, error) {
	addrs := make([]netip.Addr, 0, len(tc.Interfaces))
	for _, s := range tc.Interfaces {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("parse transport interface %q: %w", s, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// PortConfig describes a declarative subscriber or service port from
// the configuration file. Each entry opens its session(s) on daemon
// startup; a message port subscribes and does not publish.
type PortConfig struct {
	// Kind is the session kind: "message", "service_provider" or
	// "service_consumer".
	Kind string `koanf:"kind"`

	// PortID is the subject-ID (message kind) or service-ID (service
	// kinds), per section 3.1.
	PortID uint16 `koanf:"port_id"`

	// RemoteNodeID is required for service_consumer ports and ignored
	// otherwise.
	RemoteNodeID uint16 `koanf:"remote_node_id"`

	// ExtentBytes bounds the reassembly buffer size for an input port
	// (section 6.3). Zero means unbounded.
	ExtentBytes int `koanf:"extent_bytes"`
}

// PortKey returns a unique identifier for the port based on (kind,
// port_id, remote_node_id). validatePorts uses it to reject duplicate
// entries.
func (pc PortConfig) PortKey() string {
	return fmt.Sprintf("%s|%d|%d", pc.Kind, pc.PortID, pc.RemoteNodeID)
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
//
// The default transfer-ID timeout of 2s and MTU of 1200 bytes follow
// the Cyphal/UDP specification's own recommended values (sections
// 3.3, 3.8): 1200 bytes keeps a single frame within a standard Ethernet
// MTU once UDP/IP headers are subtracted.
func DefaultConfig() *Config {
	return &Config{
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Transport: TransportConfig{
			MTUBytes:             1200,
			TXQueueCapacityBytes: 1 << 20,
			TransferIDTimeout:    2 * time.Second,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for cyudp-node
// configuration. Variables are named CYUDP_<section>_<key>, e.g.
// CYUDP_TRANSPORT_NODE_ID.
const envPrefix = "CYUDP_"

// Load reads configuration from a YAML file at path, overlays
// environment variable overrides (CYUDP_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	CYUDP_TRANSPORT_NODE_ID  -> transport.node_id
//	CYUDP_TRANSPORT_MTU_BYTES -> transport.mtu_bytes
//	CYUDP_METRICS_ADDR       -> metrics.addr
//	CYUDP_LOG_LEVEL          -> log.level
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms CYUDP_TRANSPORT_NODE_ID -> transport.node_id.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	// Only the first underscore separates section from key; the rest
	// belong to the key itself (node_id, mtu_bytes).
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"metrics.addr":                      defaults.Metrics.Addr,
		"metrics.path":                      defaults.Metrics.Path,
		"log.level":                         defaults.Log.Level,
		"log.format":                        defaults.Log.Format,
		"transport.mtu_bytes":               defaults.Transport.MTUBytes,
		"transport.tx_queue_capacity_bytes": defaults.Transport.TXQueueCapacityBytes,
		"transport.transfer_id_timeout":     defaults.Transport.TransferIDTimeout.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrNoInterfaces indicates the transport has no configured
	// interfaces.
	ErrNoInterfaces = errors.New("transport.interfaces must list 1 to 3 addresses")

	// ErrTooManyInterfaces indicates more than the maximum redundant
	// interface count was configured.
	ErrTooManyInterfaces = errors.New("transport.interfaces must not exceed 3 addresses")

	// ErrInvalidMTU indicates the configured MTU is non-positive.
	ErrInvalidMTU = errors.New("transport.mtu_bytes must be > 0")

	// ErrInvalidTransferIDTimeout indicates the transfer-ID timeout is
	// non-positive.
	ErrInvalidTransferIDTimeout = errors.New("transport.transfer_id_timeout must be > 0")

	// ErrInvalidPortKind indicates a port has an unrecognized kind.
	ErrInvalidPortKind = errors.New("port kind must be message, service_provider or service_consumer")

	// ErrMissingRemoteNodeID indicates a service_consumer port has no
	// remote node-ID configured.
	ErrMissingRemoteNodeID = errors.New("service_consumer port requires remote_node_id")

	// ErrDuplicatePortKey indicates two ports share the same (kind,
	// port_id, remote_node_id) key.
	ErrDuplicatePortKey = errors.New("duplicate port key")
)

// ValidPortKinds lists the recognized port kind strings.
var ValidPortKinds = map[string]bool{
	"message":          true,
	"service_provider": true,
	"service_consumer": true,
}

// maxRedundantInterfaces mirrors the transport's own redundancy cap
// (section 3.6).
const maxRedundantInterfaces = 3

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if !cfg.Transport.Anonymous {
		if len(cfg.Transport.Interfaces) == 0 {
			return ErrNoInterfaces
		}
	}
	if len(cfg.Transport.Interfaces) > maxRedundantInterfaces {
		return ErrTooManyInterfaces
	}

	if cfg.Transport.MTUBytes <= 0 {
		return ErrInvalidMTU
	}

	if cfg.Transport.TransferIDTimeout <= 0 {
		return ErrInvalidTransferIDTimeout
	}

	if _, err := cfg.Transport.InterfaceAddrs(); err != nil {
		return err
	}

	if err := validatePorts(cfg.Ports); err != nil {
		return err
	}

	return nil
}

// validatePorts checks each declarative port entry for correctness.
func validatePorts(ports []PortConfig) error {
	seen := make(map[string]struct{}, len(ports))

	for i, pc := range ports {
		if !ValidPortKinds[pc.Kind] {
			return fmt.Errorf("ports[%d] kind %q: %w", i, pc.Kind, ErrInvalidPortKind)
		}

		if pc.Kind == "service_consumer" && pc.RemoteNodeID == 0 {
			return fmt.Errorf("ports[%d]: %w", i, ErrMissingRemoteNodeID)
		}

		key := pc.PortKey()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("ports[%d] key %q: %w", i, key, ErrDuplicatePortKey)
		}
		seen[key] = struct{}{}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the
// corresponding slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
