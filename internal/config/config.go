package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/ice"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	Secret     string        `mapstructure:"secret"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	DefaultCapacity int  `mapstructure:"default_capacity"`
	AutoCreateRooms bool `mapstructure:"auto_create_rooms"`

	JoinRateLimit  int           `mapstructure:"join_rate_limit"`
	JoinRateWindow time.Duration `mapstructure:"join_rate_window"`

	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	RetryBudget        int           `mapstructure:"retry_budget"`
	RetryBackoff       time.Duration `mapstructure:"retry_backoff"`
	DeviceTimeout      time.Duration `mapstructure:"device_timeout"`

	IceConfigURL string       `mapstructure:"ice_config_url"`
	AdmissionURL string       `mapstructure:"admission_url"`
	IceServers   []ice.Server `mapstructure:"ice_servers"`
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
	v.SetDefault("default_capacity", 2)
	v.SetDefault("auto_create_rooms", true)
	v.SetDefault("join_rate_limit", 10)
	v.SetDefault("join_rate_window", "1m")
	v.SetDefault("negotiation_timeout", "15s")
	v.SetDefault("retry_budget", 1)
	v.SetDefault("retry_backoff", "1s")
	v.SetDefault("device_timeout", "30s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Capacity: %d\n", cfg.Mode, cfg.Port, cfg.DefaultCapacity)
	return &cfg, nil
}
