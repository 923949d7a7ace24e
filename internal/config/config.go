// Package config loads and validates the relay node configuration from
// a YAML file, with struct-tag defaults applied first so a missing file
// or a partial one still yields a runnable node.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"

	"github.com/humans-net/oxibridge/internal/quality"
)

// defaultNameFilters match the wearable's advertised names. Used when the
// config selects name-filter discovery but lists no filters of its own.
var defaultNameFilters = []string{"berry", "vinculo", "humans"}

// Config is the full node configuration.
type Config struct {
	// NodeID identifies this relay toward the coordination service and
	// the telemetry endpoint. Defaults to the hostname when empty.
	NodeID string `yaml:"node_id"`

	// PollInterval is the controller's cadence.
	PollInterval time.Duration `yaml:"poll_interval" default:"250ms"`

	// CountersInterval is how often aggregate counters are logged.
	CountersInterval time.Duration `yaml:"counters_interval" default:"30s"`

	// MetricsAddr, when set, exposes Prometheus metrics on this address.
	MetricsAddr string `yaml:"metrics_addr"`

	Link        LinkConfig        `yaml:"link"`
	Quality     quality.Config    `yaml:"quality"`
	Arbitration ArbitrationConfig `yaml:"arbitration"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// LinkConfig configures the BLE link to the wearable.
type LinkConfig struct {
	// DeviceAddress pins discovery to a fixed address. When empty, the
	// name filters are used instead.
	DeviceAddress     string   `yaml:"device_address"`
	DeviceNameFilters []string `yaml:"device_name_filters"`

	// GATT layout of the wearable's transparent-UART service.
	ServiceUUID    string `yaml:"service_uuid" default:"49535343-fe7d-4ae5-8fa9-9fafd205e455"`
	NotifyCharUUID string `yaml:"notify_char_uuid" default:"49535343-1e4d-4bd9-ba61-23c647249616"`
	WriteCharUUID  string `yaml:"write_char_uuid" default:"49535343-8841-43f4-a8d4-ecbe34729bb3"`

	// StartCommand is the single byte written to the write characteristic
	// to start the sample stream.
	StartCommand byte `yaml:"start_command" default:"245"`

	ConnectTimeout      time.Duration `yaml:"connect_timeout" default:"10s"`
	ScanWindow          time.Duration `yaml:"scan_window" default:"5s"`
	RescanInterval      time.Duration `yaml:"rescan_interval" default:"2s"`
	DataTimeout         time.Duration `yaml:"data_timeout" default:"10s"`
	RSSIRefreshInterval time.Duration `yaml:"rssi_refresh_interval" default:"2s"`

	// MinConnectRSSI gates connection attempts; a weaker candidate is
	// discarded. ForceDisconnectRSSI tears a streaming link down.
	MinConnectRSSI      int `yaml:"min_connect_rssi" default:"-85"`
	ForceDisconnectRSSI int `yaml:"force_disconnect_rssi" default:"-95"`
}

// ArbitrationConfig configures the coordination-service exchange.
type ArbitrationConfig struct {
	// StatusURL is the coordination service's bridge-status endpoint.
	// Arbitration is disabled when empty; the node then always behaves
	// as if it were allowed to connect.
	StatusURL           string        `yaml:"status_url"`
	StatusCheckInterval time.Duration `yaml:"status_check_interval" default:"3s"`
	RequestTimeout      time.Duration `yaml:"request_timeout" default:"5s"`
}

// TelemetryConfig configures the outbound telemetry endpoint.
type TelemetryConfig struct {
	URL             string        `yaml:"url"`
	APIKey          string        `yaml:"api_key"`
	MaxAttempts     int           `yaml:"max_attempts" default:"3"`
	RetryDelay      time.Duration `yaml:"retry_delay" default:"500ms"`
	PublishInterval time.Duration `yaml:"publish_interval" default:"1s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" default:"5s"`
}

// Load reads the config file at path (optional, "" for defaults only),
// applies defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := new(Config)
	defaults.SetDefaults(cfg)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if cfg.Link.DeviceAddress == "" && len(cfg.Link.DeviceNameFilters) == 0 {
		cfg.Link.DeviceNameFilters = append([]string(nil), defaultNameFilters...)
	}
	if cfg.NodeID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.NodeID = host
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants that defaults alone cannot
// guarantee once user values are merged in.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", c.PollInterval)
	}
	if c.Telemetry.URL == "" {
		return fmt.Errorf("telemetry.url is required")
	}
	if c.Telemetry.MaxAttempts < 1 {
		return fmt.Errorf("telemetry.max_attempts must be at least 1, got %d", c.Telemetry.MaxAttempts)
	}
	if !c.Quality.Thresholds.Ordered() {
		return fmt.Errorf("quality.thresholds must be strictly descending (excellent > good > acceptable > weak > critical)")
	}
	if c.Link.ForceDisconnectRSSI >= c.Link.MinConnectRSSI {
		return fmt.Errorf("link.force_disconnect_rssi (%d) must be below link.min_connect_rssi (%d)",
			c.Link.ForceDisconnectRSSI, c.Link.MinConnectRSSI)
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"link.connect_timeout", c.Link.ConnectTimeout},
		{"link.scan_window", c.Link.ScanWindow},
		{"link.rescan_interval", c.Link.RescanInterval},
		{"link.data_timeout", c.Link.DataTimeout},
		{"link.rssi_refresh_interval", c.Link.RSSIRefreshInterval},
		{"telemetry.publish_interval", c.Telemetry.PublishInterval},
		{"arbitration.status_check_interval", c.Arbitration.StatusCheckInterval},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %v", d.name, d.value)
		}
	}
	return nil
}
