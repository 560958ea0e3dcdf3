// Package config provides configuration loading for the durable engine.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/dukex/durable/pkg/checkpoint"
	"github.com/dukex/durable/pkg/fileio"
	"github.com/dukex/durable/pkg/marker"
	"github.com/dukex/durable/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Engine holds the settings shared by the orchestrator and worker binaries.
// Durations are written as Go durations ("90s", "10m").
type Engine struct {
	StateDir                string        `yaml:"state_dir"                 validate:"required"`
	StepTimeout             time.Duration `yaml:"step_timeout"              validate:"gte=0"`
	TotalTimeout            time.Duration `yaml:"total_timeout"             validate:"gte=0"`
	PollInterval            time.Duration `yaml:"poll_interval"             validate:"gt=0"`
	MarkerTimeout           time.Duration `yaml:"marker_timeout"            validate:"gt=0"`
	Read                    ReadConfig    `yaml:"read"`
	CheckpointRetentionDays int           `yaml:"checkpoint_retention_days" validate:"gte=0"`
	CleanupSchedule         string        `yaml:"cleanup_schedule"`
	EmitCheckpointEvents    bool          `yaml:"emit_checkpoint_events"`
	ResumeCommand           string        `yaml:"resume_command"`
	Tracing                 bool          `yaml:"tracing"`
	Concurrency             int           `yaml:"concurrency"               validate:"gte=1"`
	Kafka                   KafkaConfig   `yaml:"kafka"`
}

// ReadConfig tunes how persisted files are read back, see fileio.ReadOptions.
type ReadConfig struct {
	Retries    int           `yaml:"retries"     validate:"gte=0"`
	Backoff    time.Duration `yaml:"backoff"     validate:"gte=0"`
	MaxBackoff time.Duration `yaml:"max_backoff" validate:"gte=0"`
	MinAge     time.Duration `yaml:"min_age"     validate:"gte=0"`
	MinSize    int64         `yaml:"min_size"    validate:"gte=0"`
}

// KafkaConfig enables publishing progress notifications to Kafka. Empty Brokers
// keeps notifications in process.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"        validate:"dive,hostname_port"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

func (r ReadConfig) Options() fileio.ReadOptions {
	return fileio.ReadOptions{
		Retries:    r.Retries,
		Backoff:    r.Backoff,
		MaxBackoff: r.MaxBackoff,
		MinAge:     r.MinAge,
		MinSize:    r.MinSize,
	}
}

// Default returns the configuration used when no file overrides it.
func Default() Engine {
	read := fileio.DefaultReadOptions()

	return Engine{
		StateDir:      ".durable",
		StepTimeout:   workflow.DefaultStepTimeout,
		PollInterval:  marker.DefaultPollInterval,
		MarkerTimeout: marker.DefaultWaitTimeout,
		Read: ReadConfig{
			Retries:    read.Retries,
			Backoff:    read.Backoff,
			MaxBackoff: read.MaxBackoff,
			MinAge:     read.MinAge,
			MinSize:    read.MinSize,
		},
		CheckpointRetentionDays: checkpoint.DefaultRetentionDays,
		CleanupSchedule:         "@daily",
		ResumeCommand:           workflow.DefaultResumeCommand,
		Concurrency:             8,
		Kafka:                   KafkaConfig{ConsumerGroup: "durable"},
	}
}

// LoadEngine reads a YAML file on top of Default. Unknown keys are rejected.
func LoadEngine(path string) (Engine, error) {
	cfg := Default()

	data, err := os.ReadFile(path) // #nosec G304 -- path is given by the operator
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("failed to parse YAML config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadEngineOrDefault is LoadEngine, falling back to Default when path is empty or
// the file does not exist.
func LoadEngineOrDefault(path string) (Engine, error) {
	if path == "" {
		return Default(), nil
	}

	cfg, err := LoadEngine(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}

	return cfg, err
}

// Validate checks field constraints and the cleanup schedule.
func (e Engine) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if e.CleanupSchedule != "" {
		if _, err := cron.ParseStandard(e.CleanupSchedule); err != nil {
			return fmt.Errorf("invalid configuration: cleanup_schedule %q: %w", e.CleanupSchedule, err)
		}
	}

	return nil
}
