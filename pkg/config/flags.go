package config

import (
	"github.com/spf13/pflag"
)

// Flags are the command-line settings. Overrides only take effect when the
// flag was given explicitly.
type Flags struct {
	ConfigPath string
	Pretty     bool
	Once       bool

	logLevel          string
	apiKey            string
	hostURL           string
	topicPrefix       string
	httpPort          string
	captureIntervalMS int
}

// AddFlags registers the flags on flagSet.
func (f *Flags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&f.ConfigPath, "config", "c", "", "path to a YAML config file")
	flagSet.BoolVar(&f.Pretty, "pretty", false, "human-readable console logs")
	flagSet.BoolVar(&f.Once, "once", false, "run a single capture and exit")
	flagSet.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flagSet.StringVar(&f.apiKey, "api-key", "", "image host API key")
	flagSet.StringVar(&f.hostURL, "host-url", "", "image host upload endpoint")
	flagSet.StringVar(&f.topicPrefix, "topic-prefix", "", "device prefix for the capture topic")
	flagSet.StringVar(&f.httpPort, "http-port", "", "control server listen address, e.g. :8080")
	flagSet.IntVar(&f.captureIntervalMS, "capture-interval-ms", 0, "milliseconds between scheduled captures")
}

// Apply copies every explicitly set flag into cfg.
func (f *Flags) Apply(flagSet *pflag.FlagSet, cfg *Config) {
	if flagSet.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if flagSet.Changed("api-key") {
		cfg.APIKey = f.apiKey
	}
	if flagSet.Changed("host-url") {
		cfg.HostURL = f.hostURL
	}
	if flagSet.Changed("topic-prefix") {
		cfg.TopicPrefix = f.topicPrefix
	}
	if flagSet.Changed("http-port") {
		cfg.HTTPPort = f.httpPort
	}
	if flagSet.Changed("capture-interval-ms") {
		cfg.CaptureIntervalMS = f.captureIntervalMS
	}
}
