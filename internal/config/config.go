// Package config loads the server configuration: defaults, then an
// optional YAML file, then command-line flags, later layers winning.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen      string `yaml:"listen"`
	AdminListen string `yaml:"admin_listen"`
	Database    string `yaml:"database"`

	RetentionDays       int  `yaml:"retention_days"`
	ScavengerPeriodSecs int  `yaml:"scavenger_period_secs"`
	FinalSweep          bool `yaml:"final_sweep"`

	MaxPage           int `yaml:"max_page"`
	SubQueueDepth     int `yaml:"sub_queue_depth"`
	MaxSubscriptions  int `yaml:"max_subscriptions"`
	MaxInFlightIngest int `yaml:"max_inflight_ingest"`

	TelemetryEndpoint string `yaml:"telemetry_endpoint"`
	LogLevel          string `yaml:"log_level"`
}

func Default() Config {
	return Config{
		Listen:              "127.0.0.1:57292",
		Database:            ":memory:",
		RetentionDays:       30,
		ScavengerPeriodSecs: 3600,
		FinalSweep:          true,
		MaxPage:             256,
		SubQueueDepth:       128,
		MaxSubscriptions:    10000,
		MaxInFlightIngest:   1000,
		LogLevel:            "info",
	}
}

// Load parses args (without the program name).
func Load(args []string) (Config, error) {
	cfg := Default()

	// First pass: locate --config so the file can seed the defaults.
	pre := pflag.NewFlagSet("pre", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.Usage = func() {}
	configPath := pre.String("config", "", "")
	_ = pre.Parse(args)

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	fs := pflag.NewFlagSet("miden-note-transport", pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML configuration file")
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "gRPC listen address")
	fs.StringVar(&cfg.AdminListen, "admin-listen", cfg.AdminListen, "admin HTTP listen address (disabled when empty)")
	fs.StringVar(&cfg.Database, "database", cfg.Database, "database URL (:memory:, sqlite://, mongodb://, redis://)")
	fs.IntVar(&cfg.RetentionDays, "retention-days", cfg.RetentionDays, "note retention period in days")
	fs.IntVar(&cfg.ScavengerPeriodSecs, "scavenger-period-secs", cfg.ScavengerPeriodSecs, "seconds between retention sweeps")
	fs.IntVar(&cfg.MaxPage, "max-page", cfg.MaxPage, "maximum fetch page size")
	fs.IntVar(&cfg.SubQueueDepth, "sub-queue-depth", cfg.SubQueueDepth, "per-subscriber queue depth")
	fs.IntVar(&cfg.MaxSubscriptions, "max-subscriptions", cfg.MaxSubscriptions, "maximum concurrent subscriptions")
	fs.StringVar(&cfg.TelemetryEndpoint, "telemetry-endpoint", cfg.TelemetryEndpoint, "Prometheus push gateway URL (disabled when empty)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention-days must be positive, got %d", c.RetentionDays)
	}
	if c.ScavengerPeriodSecs <= 0 {
		return fmt.Errorf("scavenger-period-secs must be positive, got %d", c.ScavengerPeriodSecs)
	}
	if c.MaxPage <= 0 {
		return fmt.Errorf("max-page must be positive, got %d", c.MaxPage)
	}
	if c.SubQueueDepth <= 0 {
		return fmt.Errorf("sub-queue-depth must be positive, got %d", c.SubQueueDepth)
	}
	if c.MaxSubscriptions <= 0 {
		return fmt.Errorf("max-subscriptions must be positive, got %d", c.MaxSubscriptions)
	}
	return nil
}

func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func (c Config) ScavengerPeriod() time.Duration {
	return time.Duration(c.ScavengerPeriodSecs) * time.Second
}
