package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Validate checks that the Config contains valid values.
// Returns an error describing the first invalid field found.
func (c Config) Validate() error {
	if c.SMIPath == "" {
		return fmt.Errorf("config: GPUMON_SMI_PATH must not be empty")
	}
	if c.ProcessStatsEnabled && c.PSPath == "" {
		return fmt.Errorf("config: GPUMON_PS_PATH must not be empty while process stats are enabled")
	}

	if c.QueryInterval < 500*time.Millisecond {
		return fmt.Errorf("config: QueryInterval must be >= 500ms, got %v", c.QueryInterval)
	}

	if c.ChannelCapacity < 1 {
		return fmt.Errorf("config: ChannelCapacity must be >= 1, got %d", c.ChannelCapacity)
	}

	if c.HistorySize < 1 {
		return fmt.Errorf("config: HistorySize must be >= 1, got %d", c.HistorySize)
	}

	if c.HealthPort < 1 || c.HealthPort > 65535 {
		return fmt.Errorf("config: HealthPort must be 1-65535, got %d", c.HealthPort)
	}

	if c.SummaryInterval < 0 {
		return fmt.Errorf("config: SummaryInterval must be >= 0, got %v", c.SummaryInterval)
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("config: LogFormat must be text or json, got %q", c.LogFormat)
	}

	return nil
}

// SlogLevel maps LogLevel onto a slog level.
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: LogLevel must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return lvl, nil
}
