package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Betradar BetradarConfig `mapstructure:"betradar"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	ReadTimeoutSec  int    `mapstructure:"read_timeout_sec"`
	WriteTimeoutSec int    `mapstructure:"write_timeout_sec"`
	IdleTimeoutSec  int    `mapstructure:"idle_timeout_sec"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type BetradarConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	AccessToken   string `mapstructure:"access_token"`
	NodeID        int    `mapstructure:"node_id"`
	TimeoutSec    int    `mapstructure:"timeout_sec"`
	RatePerSecond int    `mapstructure:"rate_per_second"`
}

func (b BetradarConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSec) * time.Second
}

type FeedConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	VHost        string   `mapstructure:"vhost"`
	Exchange     string   `mapstructure:"exchange"`
	RoutingKeys  []string `mapstructure:"routing_keys"`
	HeartbeatSec int      `mapstructure:"heartbeat_sec"`
	DisableTLS   bool     `mapstructure:"disable_tls"`
	InsecureTLS  bool     `mapstructure:"insecure_tls"`
}

func (f FeedConfig) Heartbeat() time.Duration {
	return time.Duration(f.HeartbeatSec) * time.Second
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8001)
	v.SetDefault("server.read_timeout_sec", 15)
	v.SetDefault("server.write_timeout_sec", 30)
	v.SetDefault("server.idle_timeout_sec", 60)
	v.SetDefault("betradar.base_url", "https://api.betradar.com/v1")
	v.SetDefault("betradar.node_id", 0)
	v.SetDefault("betradar.timeout_sec", 30)
	v.SetDefault("betradar.rate_per_second", 5)
	v.SetDefault("feed.host", "global.replaymq.betradar.com")
	v.SetDefault("feed.port", 5671)
	v.SetDefault("feed.vhost", "/")
	v.SetDefault("feed.exchange", "unifiedfeed")
	v.SetDefault("feed.routing_keys", []string{"#"})
	v.SetDefault("feed.heartbeat_sec", 60)
	v.SetDefault("feed.disable_tls", false)
	v.SetDefault("feed.insecure_tls", false)
	v.SetDefault("storage.path", "data/replay.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Environment variable support
	v.SetEnvPrefix("REPLAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// The access token keeps its historical unprefixed name
	_ = v.BindEnv("betradar.access_token", "BETRADAR_ACCESS_TOKEN", "REPLAY_BETRADAR_ACCESS_TOKEN")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}
