// Package config loads the framesrc CLI configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete CLI configuration.
type Config struct {
	Inputs       []string `yaml:"inputs"`
	Downscale    int      `yaml:"downscale"`     // power of two, 1 for full size
	SeekFrame    int64    `yaml:"seek_frame"`    // first video frame to decode
	MaxFrames    int64    `yaml:"max_frames"`    // 0 decodes everything
	MaxImages    int      `yaml:"max_images"`    // cap on image sequence files
	ReorderDepth int      `yaml:"reorder_depth"` // 0 uses the default
	Concurrency  int      `yaml:"concurrency"`   // passes decoded at once
	Captions     bool     `yaml:"captions"`
	MetricsAddr  string   `yaml:"metrics_addr"` // empty disables /metrics
	LogLevel     string   `yaml:"log_level"`    // debug, info, warn, error
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Downscale:   1,
		Concurrency: 2,
		LogLevel:    "info",
	}
}

// Load reads and parses a YAML configuration file. An empty path yields
// the defaults. Environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides fields from FRAMESRC_* variables and DEBUG.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("FRAMESRC_INPUTS"); v != "" {
		c.Inputs = strings.Split(v, ",")
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"FRAMESRC_DOWNSCALE", &c.Downscale},
		{"FRAMESRC_CONCURRENCY", &c.Concurrency},
		{"FRAMESRC_REORDER_DEPTH", &c.ReorderDepth},
		{"FRAMESRC_MAX_IMAGES", &c.MaxImages},
	}
	for _, e := range ints {
		if v := getenv(e.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("config: %s: %w", e.key, err)
			}
			*e.dst = n
		}
	}
	for key, dst := range map[string]*int64{
		"FRAMESRC_SEEK_FRAME": &c.SeekFrame,
		"FRAMESRC_MAX_FRAMES": &c.MaxFrames,
	} {
		if v := getenv(key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("config: %s: %w", key, err)
			}
			*dst = n
		}
	}
	if v := getenv("FRAMESRC_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := getenv("FRAMESRC_CAPTIONS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: FRAMESRC_CAPTIONS: %w", err)
		}
		c.Captions = b
	}
	if v := getenv("FRAMESRC_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if getenv("DEBUG") != "" {
		c.LogLevel = "debug"
	}
	return nil
}

// Validate checks the configuration for values no pass can run with.
func Validate(c *Config) error {
	var errs []error
	if len(c.Inputs) == 0 {
		errs = append(errs, errors.New("no inputs"))
	}
	for i, in := range c.Inputs {
		if strings.TrimSpace(in) == "" {
			errs = append(errs, fmt.Errorf("input %d is empty", i))
		}
	}
	if c.Downscale < 1 || c.Downscale&(c.Downscale-1) != 0 {
		errs = append(errs, fmt.Errorf("downscale %d is not a power of two", c.Downscale))
	}
	if c.SeekFrame < 0 {
		errs = append(errs, fmt.Errorf("seek_frame %d is negative", c.SeekFrame))
	}
	if c.MaxFrames < 0 {
		errs = append(errs, fmt.Errorf("max_frames %d is negative", c.MaxFrames))
	}
	if c.ReorderDepth < 0 {
		errs = append(errs, fmt.Errorf("reorder_depth %d is negative", c.ReorderDepth))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency %d must be at least 1", c.Concurrency))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return l, nil
}
