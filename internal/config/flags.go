package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// LoadArgs loads the configuration like Load, then applies command-line
// flags on top. Only flags that were explicitly set override a value.
// A --config flag replaces GPUMON_CONFIG_FILE as the YAML file to read.
// pflag.ErrHelp is returned as is when -h or --help was given.
func LoadArgs(args []string) (Config, error) {
	fs := pflag.NewFlagSet("gpumon", pflag.ContinueOnError)

	defaults := Defaults()
	configFile := fs.String("config", "", "YAML configuration file (overrides GPUMON_CONFIG_FILE)")
	smiPath := fs.String("smi-path", defaults.SMIPath, "nvidia-smi executable")
	psPath := fs.String("ps-path", defaults.PSPath, "ps executable")
	queryInterval := fs.Duration("query-interval", defaults.QueryInterval, "interval between periodic queries")
	processStats := fs.Bool("process-stats", defaults.ProcessStatsEnabled, "collect per-process CPU and RSS with ps")
	history := fs.Int("history", defaults.HistorySize, "samples kept per device")
	healthPort := fs.Int("health-port", defaults.HealthPort, "port of the health, metrics and debug server")
	debugEndpoints := fs.Bool("debug-endpoints", defaults.DebugEndpoints, "enable pprof on the health port")
	logLevel := fs.String("log-level", defaults.LogLevel, "log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", defaults.LogFormat, "log format (text, json)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return Config{}, fmt.Errorf("config: unexpected argument %q", rest[0])
	}

	var (
		cfg Config
		err error
	)
	if fs.Changed("config") {
		cfg, err = load(*configFile)
	} else {
		cfg, err = Load()
	}
	if err != nil {
		return Config{}, err
	}

	if fs.Changed("smi-path") {
		cfg.SMIPath = *smiPath
	}
	if fs.Changed("ps-path") {
		cfg.PSPath = *psPath
	}
	if fs.Changed("query-interval") {
		cfg.QueryInterval = *queryInterval
	}
	if fs.Changed("process-stats") {
		cfg.ProcessStatsEnabled = *processStats
	}
	if fs.Changed("history") {
		cfg.HistorySize = *history
	}
	if fs.Changed("health-port") {
		cfg.HealthPort = *healthPort
	}
	if fs.Changed("debug-endpoints") {
		cfg.DebugEndpoints = *debugEndpoints
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = *logFormat
	}

	return cfg, nil
}
