package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	API struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"api"`

	DB struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"db"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Hub struct {
		PingIntervalSeconds int           `mapstructure:"ping_interval_seconds"`
		PingInterval        time.Duration `mapstructure:"-"`
		IdleTimeoutSeconds  int           `mapstructure:"idle_timeout_seconds"`
		IdleTimeout         time.Duration `mapstructure:"-"`
		SendQueue           int           `mapstructure:"send_queue"`
		PolicyDefaultAllow  bool          `mapstructure:"policy_default_allow"`
	} `mapstructure:"hub"`

	Analytics struct {
		Enabled              bool          `mapstructure:"enabled"`
		BatchSize            int           `mapstructure:"batch_size"`
		FlushIntervalSeconds int           `mapstructure:"flush_interval_seconds"`
		FlushInterval        time.Duration `mapstructure:"-"`
		MaxAttempts          int           `mapstructure:"max_attempts"`
		MaxBackoffMillis     int           `mapstructure:"max_backoff_millis"`
		MaxBackoff           time.Duration `mapstructure:"-"`
		StrictCanonical      bool          `mapstructure:"strict_canonical"`
		DemoSafe             bool          `mapstructure:"demo_safe"`
	} `mapstructure:"analytics"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("api.listen", "127.0.0.1:8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("hub.ping_interval_seconds", 25)
	v.SetDefault("hub.idle_timeout_seconds", 120)
	v.SetDefault("hub.send_queue", 64)
	v.SetDefault("hub.policy_default_allow", true)
	v.SetDefault("analytics.enabled", false)
	v.SetDefault("analytics.batch_size", 50)
	v.SetDefault("analytics.flush_interval_seconds", 2)
	v.SetDefault("analytics.max_attempts", 5)
	v.SetDefault("analytics.max_backoff_millis", 5000)
	v.SetDefault("analytics.strict_canonical", true)
	v.SetDefault("analytics.demo_safe", true)

	// Env overrides
	v.SetEnvPrefix("DISPATCHD")
	v.AutomaticEnv()
	_ = v.BindEnv("db.dsn", "DISPATCHD_DB_DSN")
	_ = v.BindEnv("api.listen", "DISPATCHD_API_LISTEN")
	_ = v.BindEnv("analytics.enabled", "DISPATCHD_ANALYTICS_ENABLED")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.Hub.PingInterval = time.Duration(c.Hub.PingIntervalSeconds) * time.Second
	c.Hub.IdleTimeout = time.Duration(c.Hub.IdleTimeoutSeconds) * time.Second
	c.Analytics.FlushInterval = time.Duration(c.Analytics.FlushIntervalSeconds) * time.Second
	c.Analytics.MaxBackoff = time.Duration(c.Analytics.MaxBackoffMillis) * time.Millisecond

	if c.Analytics.Enabled && c.DB.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required when analytics is enabled (set DISPATCHD_DB_DSN or config file)")
	}
	return &c, nil
}
