// Package config loads process configuration the way the teacher's
// apps/bridge/internal/config does: pflag for command-line flags, viper
// layering environment variables and an optional config file on top,
// unmarshaled into a typed struct. The flag set itself is entirely
// different — this process has no HTTP/WebRTC surface — but the
// pflag+viper+FDV_-prefixed-env+optional-config-file shape, the Usage
// text layout, and the "log what we resolved to" line at the end are all
// carried over unchanged.
package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is everything cmd/freedv-waveform needs to start the waveform.
type Config struct {
	// Radio addressing. RadioHost/RadioPort bypass discovery entirely when
	// set; otherwise the process broadcasts-listens on DiscoveryPort.
	RadioHost     string `mapstructure:"radio-host"`
	RadioPort     int    `mapstructure:"radio-port"`
	DiscoveryPort int    `mapstructure:"discovery-port"`

	// FreeDV
	DefaultMode string `mapstructure:"default-mode"`

	// Diagnostics
	APILogFile string `mapstructure:"api-log-file"`
	LogLevel   string `mapstructure:"log-level"`

	// Metrics
	MetricsEnabled bool   `mapstructure:"metrics-enabled"`
	MetricsAddr    string `mapstructure:"metrics-addr"`

	// Config file path actually used (set after load, not a flag itself).
	ConfigFile string `mapstructure:"-"`
}

func defaultAPILogPath() string {
	return "freedv-waveform-api.log"
}

// Load parses flags, environment variables (FDV_ prefix) and an optional
// freedv-waveform.yaml/json/toml config file into a Config, using viper's
// default layering: an explicitly set flag beats the environment, the
// environment beats the config file, and flag defaults apply only where
// none of those set a value (see viper.BindPFlags).
func Load() (Config, error) {
	var cfg Config
	fs := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.SortFlags = true

	fs.String("radio-host", "", "Radio host/IP to connect to, bypassing discovery")
	fs.Int("radio-port", 0, "Radio control-link TCP port, bypassing discovery (requires --radio-host)")
	fs.Int("discovery-port", 4992, "UDP port to listen for radio discovery broadcasts on")
	fs.String("default-mode", "1600", "FreeDV mode opened when a slice first enters FDVU/FDVL (1600, 700C, 700D, 700E, 800XA, 2020)")
	fs.String("api-log-file", defaultAPILogPath(), "Path to write raw control-link traffic (set empty to disable)")
	fs.String("log-level", "info", "Log verbosity: debug, info, warn, error")
	fs.Bool("metrics-enabled", false, "Expose a Prometheus /metrics endpoint")
	fs.String("metrics-addr", ":9192", "Listen address for the Prometheus endpoint")
	fs.String("config", "", "Path to an optional config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `freedv-waveform

Usage:
  %s [flags]

Flags:
`, os.Args[0])
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Environment:
  Prefix: FDV_
  Examples:
    FDV_RADIO_HOST=192.0.2.10 FDV_RADIO_PORT=4992
    FDV_DEFAULT_MODE=700D FDV_METRICS_ENABLED=true

Config file:
  Set FDV_CONFIG=/path/to/file.(yaml|json|toml)
  Or place freedv-waveform.yaml/json/toml in the current directory
`)
	}

	pflag.CommandLine.AddFlagSet(fs)
	pflag.Parse()

	v := viper.New()
	v.SetEnvPrefix("FDV")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
		fs.Usage()
		os.Exit(2)
	}

	cfgFile := v.GetString("config")
	if envFile := os.Getenv("FDV_CONFIG"); envFile != "" {
		cfgFile = envFile
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("freedv-waveform")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err == nil {
		log.Printf("[config] using config file: %s", v.ConfigFileUsed())
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	if (cfg.RadioHost == "") != (cfg.RadioPort == 0) {
		return cfg, fmt.Errorf("config: --radio-host and --radio-port must be set together, or neither (to use discovery)")
	}
	if !validLogLevel(cfg.LogLevel) {
		return cfg, fmt.Errorf("config: invalid log-level %q", cfg.LogLevel)
	}

	log.Printf("[config] radio=%s:%d discovery-port=%d default-mode=%s api-log=%q metrics=%v file=%q",
		cfg.RadioHost, cfg.RadioPort, cfg.DiscoveryPort, cfg.DefaultMode, cfg.APILogFile, cfg.MetricsEnabled, cfg.ConfigFile)

	return cfg, nil
}

func validLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}
