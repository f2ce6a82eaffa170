// CLAUDE:SUMMARY Configuration structs (fetch, schedule, parse, audit retention) and YAML loader for pagekeeper.
package pagekeeper

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all pagekeeper configuration.
type Config struct {
	DBPath     string         `yaml:"db_path"`
	Listen     string         `yaml:"listen"`
	ReadOnly   bool           `yaml:"read_only"`
	Timezone   string         `yaml:"timezone"`
	RunOnStart bool           `yaml:"run_on_start"`
	Fetch      FetchConfig    `yaml:"fetch"`
	Schedule   ScheduleConfig `yaml:"schedule"`
	Parse      ParseConfig    `yaml:"parse"`

	// AuditRetentionDays prunes audit entries older than this on Start.
	// Zero keeps them forever.
	AuditRetentionDays int `yaml:"audit_retention_days"`
}

// FetchConfig controls how pages are loaded.
type FetchConfig struct {
	Mode         string        `yaml:"mode"` // "http" or "browser"
	Timeout      time.Duration `yaml:"timeout"`
	UserAgent    string        `yaml:"user_agent"`
	MaxBytes     int64         `yaml:"max_bytes"`
	MaxRedirects int           `yaml:"max_redirects"`
	BlockPrivate bool          `yaml:"block_private"`
	BrowserBin   string        `yaml:"browser_bin"`
	Settle       time.Duration `yaml:"settle"`
}

// ScheduleConfig holds the run time given to pages created without one.
// Pointers distinguish an explicit midnight from an unset value.
type ScheduleConfig struct {
	DefaultHour   *int `yaml:"default_hour"`
	DefaultMinute *int `yaml:"default_minute"`
}

// ParseConfig controls number parsing.
type ParseConfig struct {
	AllowPercent bool `yaml:"allow_percent"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "pagekeeper.db"
	}
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.Fetch.Mode == "" {
		c.Fetch.Mode = "http"
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 8 * time.Second
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = 10 * 1024 * 1024
	}
	if c.Fetch.MaxRedirects <= 0 {
		c.Fetch.MaxRedirects = 5
	}
	if c.Schedule.DefaultHour == nil {
		h := 10
		c.Schedule.DefaultHour = &h
	}
	if c.Schedule.DefaultMinute == nil {
		m := 0
		c.Schedule.DefaultMinute = &m
	}
}

func (c *Config) location() (*time.Location, error) {
	if c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
