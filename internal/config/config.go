package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds all pipeline configuration values.
type Config struct {
	// Collection
	SMIPath             string        // GPUMON_SMI_PATH, default: "nvidia-smi"
	PSPath              string        // GPUMON_PS_PATH, default: "ps"
	QueryInterval       time.Duration // GPUMON_QUERY_INTERVAL, default: 2s
	ProcessStatsEnabled bool          // GPUMON_PROCESS_STATS_ENABLED, default: true
	ChannelCapacity     int           // GPUMON_CHANNEL_CAPACITY, default: 200

	// Store
	HistorySize int // GPUMON_HISTORY, samples kept per device, default: 300

	// Surfaces
	HealthPort      int           // GPUMON_HEALTH_PORT, default: 8080
	DebugEndpoints  bool          // GPUMON_DEBUG_ENDPOINTS, default: false, enables pprof on the health port
	SummaryInterval time.Duration // GPUMON_SUMMARY_INTERVAL, default: 30s, 0 disables the log summary

	// Identity and logging
	SessionID string // GPUMON_SESSION_ID, default: random UUID
	LogLevel  string // GPUMON_LOG_LEVEL, default: "info"
	LogFormat string // GPUMON_LOG_FORMAT, default: "text"

	// ConfigFile is the YAML file the values were overlaid from, if any.
	ConfigFile string // GPUMON_CONFIG_FILE
}

// fileConfig mirrors Config for the optional YAML file. Pointer and string
// fields distinguish "unset" from a zero value.
type fileConfig struct {
	SMIPath             string `yaml:"smi_path"`
	PSPath              string `yaml:"ps_path"`
	QueryInterval       string `yaml:"query_interval"`
	ProcessStatsEnabled *bool  `yaml:"process_stats_enabled"`
	ChannelCapacity     *int   `yaml:"channel_capacity"`
	HistorySize         *int   `yaml:"history"`
	HealthPort          *int   `yaml:"health_port"`
	DebugEndpoints      *bool  `yaml:"debug_endpoints"`
	SummaryInterval     string `yaml:"summary_interval"`
	SessionID           string `yaml:"session_id"`
	LogLevel            string `yaml:"log_level"`
	LogFormat           string `yaml:"log_format"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		SMIPath:             "nvidia-smi",
		PSPath:              "ps",
		QueryInterval:       2 * time.Second,
		ProcessStatsEnabled: true,
		ChannelCapacity:     200,
		HistorySize:         300,
		HealthPort:          8080,
		SummaryInterval:     30 * time.Second,
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// GPUMON_CONFIG_FILE (if set), then environment variables. Unparseable env
// values fall back to the value below them.
func Load() (Config, error) {
	return load(os.Getenv("GPUMON_CONFIG_FILE"))
}

func load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
		cfg.ConfigFile = path
	}

	cfg.SMIPath = envOrDefault("GPUMON_SMI_PATH", cfg.SMIPath)
	cfg.PSPath = envOrDefault("GPUMON_PS_PATH", cfg.PSPath)
	cfg.QueryInterval = parseDuration("GPUMON_QUERY_INTERVAL", cfg.QueryInterval)
	cfg.ProcessStatsEnabled = parseBool("GPUMON_PROCESS_STATS_ENABLED", cfg.ProcessStatsEnabled)
	cfg.ChannelCapacity = parseInt("GPUMON_CHANNEL_CAPACITY", cfg.ChannelCapacity)
	cfg.HistorySize = parseInt("GPUMON_HISTORY", cfg.HistorySize)
	cfg.HealthPort = parseInt("GPUMON_HEALTH_PORT", cfg.HealthPort)
	cfg.DebugEndpoints = parseBool("GPUMON_DEBUG_ENDPOINTS", cfg.DebugEndpoints)
	cfg.SummaryInterval = parseDuration("GPUMON_SUMMARY_INTERVAL", cfg.SummaryInterval)
	cfg.SessionID = envOrDefault("GPUMON_SESSION_ID", cfg.SessionID)
	cfg.LogLevel = envOrDefault("GPUMON_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOrDefault("GPUMON_LOG_FORMAT", cfg.LogFormat)

	if cfg.SessionID == "" {
		cfg.SessionID = uuid.New().String()
	}

	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if fc.SMIPath != "" {
		c.SMIPath = fc.SMIPath
	}
	if fc.PSPath != "" {
		c.PSPath = fc.PSPath
	}
	if fc.QueryInterval != "" {
		d, ok := durationValue(fc.QueryInterval)
		if !ok {
			return fmt.Errorf("config: %s: invalid query_interval %q", path, fc.QueryInterval)
		}
		c.QueryInterval = d
	}
	if fc.ProcessStatsEnabled != nil {
		c.ProcessStatsEnabled = *fc.ProcessStatsEnabled
	}
	if fc.ChannelCapacity != nil {
		c.ChannelCapacity = *fc.ChannelCapacity
	}
	if fc.HistorySize != nil {
		c.HistorySize = *fc.HistorySize
	}
	if fc.HealthPort != nil {
		c.HealthPort = *fc.HealthPort
	}
	if fc.DebugEndpoints != nil {
		c.DebugEndpoints = *fc.DebugEndpoints
	}
	if fc.SummaryInterval != "" {
		d, ok := durationValue(fc.SummaryInterval)
		if !ok {
			return fmt.Errorf("config: %s: invalid summary_interval %q", path, fc.SummaryInterval)
		}
		c.SummaryInterval = d
	}
	if fc.SessionID != "" {
		c.SessionID = fc.SessionID
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	if fc.LogFormat != "" {
		c.LogFormat = fc.LogFormat
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// parseDuration tries time.ParseDuration first, then falls back to treating
// the value as integer seconds.
func parseDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if d, ok := durationValue(v); ok {
		return d
	}
	return defaultVal
}

func durationValue(v string) (time.Duration, bool) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	// Fallback: treat as integer seconds
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}

func parseBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func parseInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
