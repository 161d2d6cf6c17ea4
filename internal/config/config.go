// Package config handles cputally configuration using Viper.
//
// Configuration sources (in priority order):
//  1. Environment variables (CPUTALLY_*)
//  2. Config file ($XDG_CONFIG_HOME/cputally/config.yaml)
//  3. Built-in defaults
//
// Command-line flags override all three; that merge happens in cmd/cputally.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/musher-dev/cputally/internal/paths"
)

const (
	// DefaultProgram is the command each run spawns when none is given.
	DefaultProgram = "factor"
	// DefaultCount is the number of processes spawned per run.
	DefaultCount = 10
	// DefaultGroupSize is how many consecutive processes share a token.
	DefaultGroupSize = 3
	// DefaultQueueCapacity bounds the aggregator queue.
	DefaultQueueCapacity = 512
	// DefaultReportFormat is the format of the final dump.
	DefaultReportFormat = "table"
)

// DefaultArgs are passed to DefaultProgram. The number takes a noticeable
// but short amount of CPU time to factor.
var DefaultArgs = []string{"1239223920932090000001"}

// Keys lists every supported configuration key with its description.
var Keys = []Key{
	{Name: "run.program", Help: "Program each run spawns"},
	{Name: "run.args", Help: "Arguments passed to the program"},
	{Name: "run.count", Help: "Processes spawned per run"},
	{Name: "run.group_size", Help: "Consecutive processes sharing a group token"},
	{Name: "run.concurrency", Help: "Maximum live children (0 = unlimited)"},
	{Name: "run.spawn_rate", Help: "Maximum spawns per second (0 = unlimited)"},
	{Name: "aggregator.queue_capacity", Help: "Bounded aggregator queue capacity"},
	{Name: "report.format", Help: "Report format: table, json, yaml, toml"},
}

// Key describes one configuration key.
type Key struct {
	Name string
	Help string
}

// IsKnownKey reports whether name is a supported configuration key.
func IsKnownKey(name string) bool {
	for _, k := range Keys {
		if k.Name == name {
			return true
		}
	}

	return false
}

// Config holds the cputally configuration.
type Config struct {
	v *viper.Viper
}

// Load reads configuration from all sources.
func Load() *Config {
	v := viper.New()

	// Set defaults
	v.SetDefault("run.program", DefaultProgram)
	v.SetDefault("run.args", DefaultArgs)
	v.SetDefault("run.count", DefaultCount)
	v.SetDefault("run.group_size", DefaultGroupSize)
	v.SetDefault("run.concurrency", 0)
	v.SetDefault("run.spawn_rate", 0.0)
	v.SetDefault("aggregator.queue_capacity", DefaultQueueCapacity)
	v.SetDefault("report.format", DefaultReportFormat)

	// Config file location
	configDir, err := paths.ConfigRoot()
	if err == nil {
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Environment variables
	v.SetEnvPrefix("CPUTALLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found, but warn on other errors)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Warning: error reading config file: %v\n", err)
		}
	}

	return &Config{v: v}
}

// Get returns a configuration value.
func (c *Config) Get(key string) interface{} {
	return c.v.Get(key)
}

// GetString returns a configuration value as string.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt returns a configuration value as int.
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// Set sets a configuration value and persists it.
func (c *Config) Set(key string, value interface{}) error {
	c.v.Set(key, value)

	configFile, err := paths.ConfigFile()
	if err != nil {
		return err
	}

	// Ensure config directory exists
	if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
		return err
	}

	return c.v.WriteConfigAs(configFile)
}

// All returns all configuration as a map.
func (c *Config) All() map[string]interface{} {
	return c.v.AllSettings()
}

// ConfigFile returns the config file in use, or "" when none was found.
func (c *Config) ConfigFile() string {
	return c.v.ConfigFileUsed()
}

// Program returns the program each run spawns.
func (c *Config) Program() string {
	return c.GetString("run.program")
}

// Args returns the arguments passed to Program.
func (c *Config) Args() []string {
	return c.v.GetStringSlice("run.args")
}

// Count returns the number of processes per run.
func (c *Config) Count() int {
	return c.GetInt("run.count")
}

// GroupSize returns how many consecutive processes share a token.
func (c *Config) GroupSize() int {
	return c.GetInt("run.group_size")
}

// Concurrency returns the maximum number of live children (0 = unlimited).
func (c *Config) Concurrency() int {
	return c.GetInt("run.concurrency")
}

// SpawnRate returns the maximum spawns per second (0 = unlimited).
func (c *Config) SpawnRate() float64 {
	return c.v.GetFloat64("run.spawn_rate")
}

// QueueCapacity returns the aggregator queue capacity.
func (c *Config) QueueCapacity() int {
	return c.GetInt("aggregator.queue_capacity")
}

// ReportFormat returns the default report format.
func (c *Config) ReportFormat() string {
	return c.GetString("report.format")
}
