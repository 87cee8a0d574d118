package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StatusConfig captures runtime settings for the build status service.
type StatusConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	DatabaseURL     string        `mapstructure:"database_url"`
	DataFile        string        `mapstructure:"data_file"`
	RedisURL        string        `mapstructure:"redis_url"`
	BadgeCacheTTL   time.Duration `mapstructure:"badge_cache_ttl"`
	AssetsDir       string        `mapstructure:"assets_dir"`
	DefaultBranch   string        `mapstructure:"default_branch"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	TraceExporter   string        `mapstructure:"trace_exporter"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoadStatus loads configuration from defaults, ./configs/config.*, and
// STATUS_* environment variables.
func LoadStatus() (StatusConfig, error) {
	return load(viper.New(), "./configs")
}

func load(v *viper.Viper, paths ...string) (StatusConfig, error) {
	v.SetConfigName("config")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("STATUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("database_url", "")
	v.SetDefault("data_file", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("badge_cache_ttl", 30*time.Second)
	v.SetDefault("assets_dir", "")
	v.SetDefault("default_branch", "master")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("trace_exporter", "none")
	v.SetDefault("request_timeout", 15*time.Second)
	v.SetDefault("shutdown_timeout", 10*time.Second)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return StatusConfig{}, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg StatusConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return StatusConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return StatusConfig{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c StatusConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.BadgeCacheTTL < 0 {
		return fmt.Errorf("badge_cache_ttl must not be negative")
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	switch strings.ToLower(c.TraceExporter) {
	case "none", "stdout":
	default:
		return fmt.Errorf("trace_exporter must be none or stdout, got %q", c.TraceExporter)
	}
	return nil
}
