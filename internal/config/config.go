package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"scanbridge/internal/registry"
)

// EnvPath names the config file when no -config flag is given.
const EnvPath = "SCANBRIDGE_CONFIG"

const defaultConfigPath = "./configs/scanbridge.yml"

type Source = registry.Source

type WebConfig struct {
	Host        string        `yaml:"host"` // 0.0.0.0
	Port        int           `yaml:"port"` // 8080
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// StreamBuffer is the number of payloads queued per stream listener.
	StreamBuffer int `yaml:"stream_buffer"`
}

type RelayConfig struct {
	SelfTest    bool `yaml:"self_test"`
	HistorySize int  `yaml:"history_size"`
}

// ResolverConfig overrides the built-in tag and key tables. Empty lists keep
// the defaults.
type ResolverConfig struct {
	Actions   []string `yaml:"actions"`
	DataKeys  []string `yaml:"data_keys"`
	AcceptAny bool     `yaml:"accept_any"`
}

type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url"` // tcp://localhost:1883
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	QoS       byte   `yaml:"qos"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type HubConfig struct {
	ClientTTL      time.Duration `yaml:"client_ttl"`
	ExpiryInterval time.Duration `yaml:"expiry_interval"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

type Config struct {
	Web             WebConfig      `yaml:"web"`
	Relay           RelayConfig    `yaml:"relay"`
	Resolver        ResolverConfig `yaml:"resolver"`
	Sources         []Source       `yaml:"sources"`
	MQTT            MQTTConfig     `yaml:"mqtt"`
	Kafka           KafkaConfig    `yaml:"kafka"`
	Hub             HubConfig      `yaml:"hub"`
	Log             LogConfig      `yaml:"log"`
	MonitorInterval time.Duration  `yaml:"monitor_interval"`
}

// Path picks the config file: the flag value, then $SCANBRIDGE_CONFIG, then
// the default location.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return defaultConfigPath
}

// Load reads path over Defaults and applies environment overrides. A missing
// file at the default location is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	wd, _ := os.Getwd()
	slog.Info("load config", "path", path, "wd", wd)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse yaml %s: %w", path, err)
		}
	case os.IsNotExist(err) && path == defaultConfigPath:
		slog.Warn("config file not found, using defaults", "path", path)
	default:
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Info("config loaded", "sources", len(cfg.Sources))
	for i, src := range cfg.Sources {
		slog.Debug("config source", "index", i, "id", src.ID, "adapter", src.Adapter, "ds", src.DataSource, "enabled", src.Enabled)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.MQTT.BrokerURL = getenv("MQTT_BROKER_URL", cfg.MQTT.BrokerURL)
	if v := getenv("KAFKA_BROKERS", ""); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	cfg.Kafka.Topic = getenv("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Log.Level = getenv("LOG_LEVEL", cfg.Log.Level)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func (c *Config) Validate() error {
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("config: invalid web port %d", c.Web.Port)
	}
	if c.Hub.ExpiryInterval <= 0 || c.Hub.ClientTTL <= 0 || c.MonitorInterval <= 0 {
		return fmt.Errorf("config: hub and monitor intervals must be positive")
	}
	seen := map[string]bool{}
	for _, s := range c.Sources {
		if s.ID == "" {
			return fmt.Errorf("config: source without id")
		}
		if seen[s.ID] {
			return fmt.Errorf("config: duplicate source id %q", s.ID)
		}
		seen[s.ID] = true
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("config: kafka enabled without brokers or topic")
	}
	return nil
}

// SlogLevel maps Log.Level onto slog; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
