// Package config loads the engine's process-wide configuration from
// ~/.agenr/config.json (or AGENR_HOME/config.json), with environment
// variable overrides and documented precedence: flag > env (AGENR_*) >
// config file > built-in default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/agenr/memory/internal/debug"
)

// Source names where a resolved value came from, for override logging.
type Source string

const (
	SourceDefault    Source = "default"
	SourceConfigFile Source = "config_file"
	SourceEnvVar     Source = "env_var"
	SourceFlag       Source = "flag"
)

// Config is the viper-backed configuration singleton. A *Config is safe
// for concurrent reads; Set/BindFlag should happen during startup only.
type Config struct {
	v    *viper.Viper
	home string
	log  *debug.Logger
}

// defaults holds every recognized configuration key.
var defaults = map[string]any{
	"db.path": "", // resolved relative to home if empty

	"dedup.aggressive": false,
	"dedup.threshold":  0.80,

	"signalsEnabled":      true,
	"signalMinImportance": 8,
	"signalMaxPerSignal":  3,
	"signalCooldownMs":    30_000,
	"signalMaxPerSession": 10,
	"signalMaxAgeSec":     300,

	"forgetting.enabled":       false,
	"forgetting.scoreThreshold": 0.75,
	"forgetting.maxAgeDays":    180,
	"forgetting.protect":       []string{},

	"walCheckpointIntervalMs": 30_000,

	"labelProjectMap": map[string]string{},
}

// Load resolves ~/.agenr (or AGENR_HOME) and reads config.json if present.
func Load(log *debug.Logger) (*Config, error) {
	if log == nil {
		log = debug.NewNop()
	}
	home, err := ResolveHome()
	if err != nil {
		return nil, fmt.Errorf("resolve agenr home: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetConfigName("config")
	v.AddConfigPath(home)

	v.SetEnvPrefix("AGENR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	configPath := filepath.Join(home, "config.json")
	if _, statErr := os.Stat(configPath); statErr == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config_error: reading %s: %w", configPath, err)
		}
		log.Infof("loaded config from %s", v.ConfigFileUsed())
	} else {
		log.Debugf("no config.json found at %s; using defaults and environment", configPath)
	}

	return &Config{v: v, home: home, log: log}, nil
}

// ResolveHome returns the engine's root directory: AGENR_HOME if set,
// else ~/.agenr.
func ResolveHome() (string, error) {
	if h := os.Getenv("AGENR_HOME"); h != "" {
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".agenr"), nil
}

func (c *Config) Home() string { return c.home }

func (c *Config) DBPath() string {
	if p := c.v.GetString("db.path"); p != "" {
		return p
	}
	return filepath.Join(c.home, "knowledge.db")
}

func (c *Config) GetBool(key string) bool       { return c.v.GetBool(key) }
func (c *Config) GetInt(key string) int         { return c.v.GetInt(key) }
func (c *Config) GetFloat64(key string) float64 { return c.v.GetFloat64(key) }
func (c *Config) GetString(key string) string   { return c.v.GetString(key) }
func (c *Config) GetStringSlice(key string) []string { return c.v.GetStringSlice(key) }
func (c *Config) GetStringMapString(key string) map[string]string {
	return c.v.GetStringMapString(key)
}

// Set overrides a key at runtime (flags, tests); logged at Source=flag.
func (c *Config) Set(key string, value any) {
	c.v.Set(key, value)
	c.log.Debugf("config override %s <- %v (source=flag)", key, value)
}

// Source reports where the effective value of key came from, for
// diagnostics (`agenr doctor`).
func (c *Config) Source(key string) Source {
	if c.v.IsSet(key) {
		if _, fromEnv := os.LookupEnv(envKey(key)); fromEnv {
			return SourceEnvVar
		}
		if c.v.ConfigFileUsed() != "" {
			return SourceConfigFile
		}
	}
	return SourceDefault
}

func envKey(key string) string {
	return "AGENR_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
