package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	ACS      ACSConfig      `yaml:"acs"`
	Workers  WorkerConfig   `yaml:"workers"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Alerting AlertingConfig `yaml:"alerting"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents the operational HTTP API configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // postgres | memory
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// ACSConfig represents the remote management server connection
type ACSConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// WorkerConfig represents the job dispatcher pool
type WorkerConfig struct {
	Count     int `yaml:"count"`
	QueueSize int `yaml:"queue_size"`
}

// MonitorConfig represents the device reachability monitor
type MonitorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	PageSize int           `yaml:"page_size"`
}

// AlertingConfig represents the alert fan-out channels
type AlertingConfig struct {
	NATS    AlertNATSConfig    `yaml:"nats"`
	MQTT    AlertMQTTConfig    `yaml:"mqtt"`
	Webhook AlertWebhookConfig `yaml:"webhook"`
}

// AlertNATSConfig represents the NATS alert channel
type AlertNATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// AlertMQTTConfig represents the MQTT alert channel
type AlertMQTTConfig struct {
	Enabled      bool   `yaml:"enabled"`
	BrokerURL    string `yaml:"broker_url"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	TopicPattern string `yaml:"topic_pattern"`
	QoS          byte   `yaml:"qos"`
	TLS          bool   `yaml:"tls"`
}

// AlertWebhookConfig represents the HTTP webhook alert channel
type AlertWebhookConfig struct {
	Enabled  bool              `yaml:"enabled"`
	Endpoint string            `yaml:"endpoint"`
	Headers  map[string]string `yaml:"headers"`
	Timeout  time.Duration     `yaml:"timeout"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if acsURL := os.Getenv("ACS_URL"); acsURL != "" {
		c.ACS.BaseURL = acsURL
	}

	if acsToken := os.Getenv("ACS_TOKEN"); acsToken != "" {
		c.ACS.Token = acsToken
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
}

// setDefaults fills in unset values
func (c *Config) setDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}

	if c.ACS.Timeout == 0 {
		c.ACS.Timeout = 30 * time.Second
	}

	if c.Workers.Count == 0 {
		c.Workers.Count = 4
	}
	if c.Workers.QueueSize == 0 {
		c.Workers.QueueSize = 64
	}

	if c.Monitor.Interval == 0 {
		c.Monitor.Interval = 10 * time.Minute
	}
	if c.Monitor.PageSize == 0 {
		c.Monitor.PageSize = 100
	}

	if c.Alerting.NATS.SubjectPrefix == "" {
		c.Alerting.NATS.SubjectPrefix = "alerts"
	}
	if c.Alerting.MQTT.TopicPattern == "" {
		c.Alerting.MQTT.TopicPattern = "cpe/{tenant_id}/alerts/{severity}"
	}
	if c.Alerting.Webhook.Timeout == 0 {
		c.Alerting.Webhook.Timeout = 10 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// validate checks the configuration for inconsistencies
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case "memory":
		// no DSN needed
	default:
		return fmt.Errorf("unknown database driver: %s", c.Database.Driver)
	}

	if c.ACS.BaseURL == "" {
		return fmt.Errorf("acs.base_url is required")
	}

	if c.Monitor.Enabled && c.Monitor.Interval < time.Second {
		return fmt.Errorf("monitor.interval must be at least 1s, got %s", c.Monitor.Interval)
	}

	if c.Alerting.MQTT.Enabled && c.Alerting.MQTT.BrokerURL == "" {
		return fmt.Errorf("alerting.mqtt.broker_url is required when MQTT alerting is enabled")
	}

	if c.Alerting.Webhook.Enabled && c.Alerting.Webhook.Endpoint == "" {
		return fmt.Errorf("alerting.webhook.endpoint is required when webhook alerting is enabled")
	}

	return nil
}
