package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerCfg struct {
	Port                string `mapstructure:"port"`
	ReadTimeoutSeconds  int    `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds"`
	Development         bool   `mapstructure:"development"`
}

type MongoCfg struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisCfg struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaCfg struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type JwtCfg struct {
	Secret string `mapstructure:"secret"`
}

type S3Cfg struct {
	Region     string `mapstructure:"region"`
	Bucket     string `mapstructure:"bucket"`
	PublicRead bool   `mapstructure:"public_read"`
}

type ProbeCfg struct {
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ChatCfg holds the message state-machine policy values.
type ChatCfg struct {
	EditWindowMinutes   int `mapstructure:"edit_window_minutes"`
	RecallWindowMinutes int `mapstructure:"recall_window_minutes"`
	LocationTTLMinutes  int `mapstructure:"location_ttl_minutes"`
	PageSize            int `mapstructure:"page_size"`
}

type RateLimitCfg struct {
	Limit         int `mapstructure:"limit"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

type Config struct {
	Server    ServerCfg    `mapstructure:"server"`
	Mongo     MongoCfg     `mapstructure:"mongo"`
	Redis     RedisCfg     `mapstructure:"redis"`
	Kafka     KafkaCfg     `mapstructure:"kafka"`
	JWT       JwtCfg       `mapstructure:"jwt"`
	S3        S3Cfg        `mapstructure:"s3"`
	Probe     ProbeCfg     `mapstructure:"probe"`
	Chat      ChatCfg      `mapstructure:"chat"`
	RateLimit RateLimitCfg `mapstructure:"rate_limit"`

	// Derived
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	EditWindow      time.Duration
	RecallWindow    time.Duration
	LocationTTL     time.Duration
	RateLimitWindow time.Duration
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// config file is optional; env + defaults are enough to boot
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.derive()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.write_timeout_seconds", 15)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "pairchat")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "pairchat")
	v.SetDefault("kafka.topic", "chat-events")
	v.SetDefault("chat.edit_window_minutes", 15)
	v.SetDefault("chat.recall_window_minutes", 10)
	v.SetDefault("chat.location_ttl_minutes", 60)
	v.SetDefault("chat.page_size", 50)
	v.SetDefault("probe.timeout_seconds", 10)
	v.SetDefault("rate_limit.limit", 120)
	v.SetDefault("rate_limit.window_seconds", 60)
}

func (c *Config) derive() {
	c.ReadTimeout = time.Duration(c.Server.ReadTimeoutSeconds) * time.Second
	c.WriteTimeout = time.Duration(c.Server.WriteTimeoutSeconds) * time.Second
	c.EditWindow = time.Duration(c.Chat.EditWindowMinutes) * time.Minute
	c.RecallWindow = time.Duration(c.Chat.RecallWindowMinutes) * time.Minute
	c.LocationTTL = time.Duration(c.Chat.LocationTTLMinutes) * time.Minute
	c.RateLimitWindow = time.Duration(c.RateLimit.WindowSeconds) * time.Second
}
