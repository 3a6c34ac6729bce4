package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/tehsphinx/relay"
)

// Broker drivers.
const (
	DriverNATS      = "nats"
	DriverJetStream = "jetstream"
	DriverMemory    = "memory"
)

// EnvPrefix prefixes environment overrides, e.g. RELAY_BROKER_URL for broker.url.
const EnvPrefix = "RELAY"

// BrokerConfig selects and tunes the broker client.
type BrokerConfig struct {
	Driver         string        `mapstructure:"driver"`
	URL            string        `mapstructure:"url"`
	Name           string        `mapstructure:"name"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	// JetStream only
	Stream     string        `mapstructure:"stream"`
	AckWait    time.Duration `mapstructure:"ack_wait"`
	MaxDeliver int           `mapstructure:"max_deliver"`
	// 0 keeps the broker default
	MaxPayload int            `mapstructure:"max_payload"`
	Embedded   EmbeddedConfig `mapstructure:"embedded"`
}

// EmbeddedConfig starts a NATS server inside the process instead of dialing broker.url.
type EmbeddedConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	StoreDir string `mapstructure:"store_dir"`
}

// SubscriberConfig controls how deliveries reach the handler.
type SubscriberConfig struct {
	Concurrent       bool `mapstructure:"concurrent"`
	RedeliverOnError bool `mapstructure:"redeliver_on_error"`
}

// HTTPConfig configures the send endpoint.
type HTTPConfig struct {
	ListenAddr   string `mapstructure:"listen_addr"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
}

// GRPCConfig configures the gRPC health server.
type GRPCConfig struct {
	// empty disables the gRPC health server
	ListenAddr string `mapstructure:"listen_addr"`
}

// MetricsConfig exposes Prometheus metrics on the HTTP server.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// HealthConfig sets how often broker connectivity is polled.
type HealthConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// LogConfig is passed to logging.Init.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the complete relay configuration.
type Config struct {
	Topic      string           `mapstructure:"topic"`
	Group      string           `mapstructure:"group"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Subscriber SubscriberConfig `mapstructure:"subscriber"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	GRPC       GRPCConfig       `mapstructure:"grpc"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Health     HealthConfig     `mapstructure:"health"`
	Log        LogConfig        `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("topic", relay.DefaultTopic)
	v.SetDefault("group", relay.DefaultGroup)

	v.SetDefault("broker.driver", DriverNATS)
	v.SetDefault("broker.url", "nats://127.0.0.1:4222")
	v.SetDefault("broker.name", "relayd")
	v.SetDefault("broker.connect_timeout", 2*time.Second)
	v.SetDefault("broker.publish_timeout", 5*time.Second)
	v.SetDefault("broker.stream", "RELAY")
	v.SetDefault("broker.ack_wait", 30*time.Second)
	v.SetDefault("broker.max_deliver", 5)
	v.SetDefault("broker.max_payload", 0)
	v.SetDefault("broker.embedded.enabled", false)
	v.SetDefault("broker.embedded.host", "127.0.0.1")
	v.SetDefault("broker.embedded.port", -1)
	v.SetDefault("broker.embedded.store_dir", "")

	v.SetDefault("subscriber.concurrent", false)
	v.SetDefault("subscriber.redeliver_on_error", false)

	v.SetDefault("http.listen_addr", ":8080")
	v.SetDefault("http.max_body_bytes", 1<<20)
	v.SetDefault("grpc.listen_addr", ":8081")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("health.interval", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the yaml file at path on top of the defaults. An empty path only applies
// defaults and environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %v: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Broker.Driver = strings.ToLower(strings.TrimSpace(c.Broker.Driver))
	c.Topic = strings.TrimSpace(c.Topic)
	c.Group = strings.TrimSpace(c.Group)
	if c.Broker.MaxDeliver < 1 {
		c.Broker.MaxDeliver = 1
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks the values the relay cannot run without.
func (c *Config) Validate() error {
	var errs []error

	if c.Topic == "" {
		errs = append(errs, errors.New("topic is required"))
	}
	if c.Group == "" {
		errs = append(errs, errors.New("group is required"))
	}

	switch c.Broker.Driver {
	case DriverMemory:
	case DriverNATS, DriverJetStream:
		if c.Broker.URL == "" && !c.Broker.Embedded.Enabled {
			errs = append(errs, errors.New("broker.url is required unless broker.embedded.enabled is set"))
		}
		if c.Broker.Driver == DriverJetStream && c.Broker.Stream == "" {
			errs = append(errs, errors.New("broker.stream is required for the jetstream driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown broker.driver %q", c.Broker.Driver))
	}

	if c.Broker.MaxPayload < 0 {
		errs = append(errs, errors.New("broker.max_payload must not be negative"))
	}
	if c.HTTP.ListenAddr == "" {
		errs = append(errs, errors.New("http.listen_addr is required"))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes must be positive"))
	}
	if c.Health.Interval <= 0 {
		errs = append(errs, errors.New("health.interval must be positive"))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("invalid log.level: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
