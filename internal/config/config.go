// Package config loads the module's recognized options from an
// optional YAML file via viper, with CLI flags always taking
// precedence over file values.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the options loaded from defaults, a config file and
// flags. Cancellation is not among them: it goes through
// core.Engine.Abort.
type Config struct {
	WritePath    string `mapstructure:"writepath"`
	FetchDepends bool   `mapstructure:"fetch_depends"`
	ValidateTLS  bool   `mapstructure:"validate_tls"`
	MaxParallel  int    `mapstructure:"max_parallel"`
	SearchURL    string `mapstructure:"search_url"`
	Debug        bool   `mapstructure:"debug"`
}

// Defaults returns a Config with the module's built-in defaults, used
// as the base layer before a config file or flags are applied.
func Defaults() Config {
	return Config{
		WritePath:   ".",
		ValidateTLS: true,
		MaxParallel: 4,
	}
}

// Load builds a Config by layering, in increasing priority: built-in
// defaults, an optional YAML file at path (if non-empty and it
// exists), and any flags the caller already bound to fs that were
// explicitly set on the command line.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	def := Defaults()
	v.SetDefault("writepath", def.WritePath)
	v.SetDefault("fetch_depends", def.FetchDepends)
	v.SetDefault("validate_tls", def.ValidateTLS)
	v.SetDefault("max_parallel", def.MaxParallel)
	v.SetDefault("search_url", def.SearchURL)
	v.SetDefault("debug", def.Debug)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("statting config file %s: %w", path, err)
		}
	}

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return Config{}, fmt.Errorf("binding flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}
