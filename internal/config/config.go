package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Forward ForwardConfig `mapstructure:"forward"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type ForwardConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes"`
}

// RelayConfig covers both ends of the relay channel: the hub settings are
// read by serve, the agent settings by the relay command.
type RelayConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Secret          string        `mapstructure:"secret"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	HeartbeatWindow time.Duration `mapstructure:"heartbeat_window"`
	HubURL          string        `mapstructure:"hub_url"`
	AgentID         string        `mapstructure:"agent_id"`
	Workers         int           `mapstructure:"workers"`
	ReconnectDelay  time.Duration `mapstructure:"reconnect_delay"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads path, or hookrelay.yaml from the usual locations when path is
// empty. Environment variables prefixed HOOKRELAY_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hookrelay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hookrelay")
	}

	setDefaults(v)

	v.SetEnvPrefix("HOOKRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite.path", "./data/hookrelay.db")

	v.SetDefault("forward.timeout", 15*time.Second)
	v.SetDefault("forward.max_response_bytes", 1<<20)

	v.SetDefault("relay.enabled", true)
	v.SetDefault("relay.secret", "")
	v.SetDefault("relay.probe_timeout", 500*time.Millisecond)
	v.SetDefault("relay.heartbeat_window", 10*time.Second)
	v.SetDefault("relay.hub_url", "ws://localhost:8080/relay/connect")
	v.SetDefault("relay.agent_id", "")
	v.SetDefault("relay.workers", 8)
	v.SetDefault("relay.reconnect_delay", 3*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age_days", 30)
}
