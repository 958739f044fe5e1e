// Package config loads osmslope's configuration from defaults, an optional
// config file, the environment, and command line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "OSMSLOPE"

// Config holds all configuration for osmslope.
type Config struct {
	Filter             string    `mapstructure:"filter"`
	Format             string    `mapstructure:"format"`
	Interpolation      string    `mapstructure:"interpolation"`
	Workers            int       `mapstructure:"workers"`
	ElevationCacheSize int       `mapstructure:"elevation-cache-size"`
	MetricsFile        string    `mapstructure:"metrics-file"`
	Log                LogConfig `mapstructure:"log"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// New returns a new viper.Viper with osmslope's defaults and environment
// bindings. Flags can be bound to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("filter", "")
	v.SetDefault("format", "json")
	v.SetDefault("interpolation", "nearest")
	v.SetDefault("workers", 0)
	v.SetDefault("elevation-cache-size", 1<<20)
	v.SetDefault("metrics-file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration from v. If configFile is empty then osmslope.yaml
// is read from the current directory or $HOME/.config/osmslope if it exists.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("osmslope")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/osmslope")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine.
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Format {
	case "json", "geojson":
	default:
		return fmt.Errorf("%s: invalid format", c.Format)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%d: invalid number of workers", c.Workers)
	}
	if c.ElevationCacheSize < 0 {
		return fmt.Errorf("%d: invalid elevation cache size", c.ElevationCacheSize)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("%s: invalid log format", c.Log.Format)
	}
	return nil
}

// NewLogger returns a new slog.Logger that writes to w.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	switch strings.ToLower(c.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%s: invalid log level", s)
	}
}
