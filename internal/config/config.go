package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type StoreConfig struct {
	Backend  string `mapstructure:"backend"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Secret  string        `mapstructure:"secret"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type DispatchConfig struct {
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

type Config struct {
	Mode         string        `mapstructure:"mode"`
	Port         int           `mapstructure:"port"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	Store    StoreConfig    `mapstructure:"store"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("dispatch.job_timeout", "30s")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.addr", "localhost:6379")
	v.SetDefault("store.db", 0)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.ttl", "24h")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Auth.Enabled && cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("auth enabled but no secret configured")
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Store: %s\n", cfg.Mode, cfg.Port, cfg.Store.Backend)
	return &cfg, nil
}
