// Package config loads the coordinator configuration from a TOML file with
// environment variable overrides.
package config

import (
	"fmt"
	"io"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml"

	"gitlab.com/gitlab-org/vccoord/internal/queue/kafka"
)

// Cfg is a container for all config derived from config.toml.
type Cfg struct {
	PrometheusListenAddr string       `toml:"prometheus_listen_addr" split_words:"true"`
	StorageDir           string       `toml:"storage_dir" split_words:"true"`
	AbortPendingOnAdmin  bool         `toml:"abort_pending_on_admin" split_words:"true"`
	Logging              Logging      `toml:"logging"`
	Queue                Queue        `toml:"queue" envconfig:"queue"`
	Kafka                kafka.Config `toml:"kafka" envconfig:"kafka"`
}

// Logging contains the logging configuration.
type Logging struct {
	Format string `toml:"format,omitempty"`
	Level  string `toml:"level,omitempty"`
}

// Queue contains the consumer loop settings.
type Queue struct {
	Topic                 string   `toml:"topic"`
	Group                 string   `toml:"group"`
	PollInterval          Duration `toml:"poll_interval" split_words:"true"`
	PackProcessingTimeout Duration `toml:"pack_processing_timeout" split_words:"true"`
}

// Duration is a trick to let our TOML library parse durations from strings.
type Duration time.Duration

// Duration converts to the standard library type.
func (d *Duration) Duration() time.Duration {
	if d != nil {
		return time.Duration(*d)
	}
	return 0
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	td, err := time.ParseDuration(string(text))
	if err == nil {
		*d = Duration(td)
	}
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Load initializes the Cfg from file and the environment. Environment
// variables take precedence over the file.
func Load(file io.Reader) (Cfg, error) {
	var cfg Cfg

	if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
		return Cfg{}, fmt.Errorf("load toml: %v", err)
	}

	if err := envconfig.Process("vccoord", &cfg); err != nil {
		return Cfg{}, fmt.Errorf("envconfig: %v", err)
	}

	cfg.setDefaults()

	return cfg, nil
}

// Validate checks the current Cfg for sanity.
func (cfg *Cfg) Validate() error {
	if cfg.StorageDir == "" {
		return fmt.Errorf("storage_dir is not set")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is not set")
	}

	return nil
}

func (cfg *Cfg) setDefaults() {
	if cfg.Queue.Topic == "" {
		cfg.Queue.Topic = "vc.requests"
	}
	if cfg.Queue.Group == "" {
		cfg.Queue.Group = "vccoord"
	}
	if cfg.Queue.PollInterval.Duration() == 0 {
		cfg.Queue.PollInterval = Duration(25 * time.Millisecond)
	}
	if cfg.Queue.PackProcessingTimeout.Duration() == 0 {
		cfg.Queue.PackProcessingTimeout = Duration(time.Minute)
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = "vccoord"
	}
}
