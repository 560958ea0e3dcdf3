package steps

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dukex/durable/pkg/fileio"
	"github.com/dukex/durable/pkg/marker"
	"github.com/dukex/durable/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Definition is a workflow described in YAML:
//
//	name: feature
//	steps:
//	  - name: review
//	    run: ["./review.sh", "{{ .metadata.ticket }}"]
//	    timeout: 5m
//	  - name: implement
//	    dispatch:
//	      launch: ["durable-worker", "exec", "--", "make", "implement"]
type Definition struct {
	Name  string           `yaml:"name"  validate:"required"`
	Steps []StepDefinition `yaml:"steps" validate:"required,min=1,unique=Name,dive"`
}

type StepDefinition struct {
	Name      string              `yaml:"name"      validate:"required"`
	Run       []string            `yaml:"run"       validate:"required_without=Dispatch"`
	Dir       string              `yaml:"dir"`
	Env       map[string]string   `yaml:"env"`
	Timeout   time.Duration       `yaml:"timeout"   validate:"gte=0"`
	Artifacts []string            `yaml:"artifacts"`
	Dispatch  *DispatchDefinition `yaml:"dispatch"`
}

// DispatchDefinition hands a step to a worker process that signals completion with
// markers. Without Launch the worker is started by someone else.
type DispatchDefinition struct {
	StepID string            `yaml:"step_id"`
	Launch []string          `yaml:"launch"`
	Dir    string            `yaml:"dir"`
	Env    map[string]string `yaml:"env"`
}

// LoadDefinition reads and validates a definition file. Relative step directories are
// resolved against the file's directory.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is given by the operator
	if err != nil {
		return nil, fmt.Errorf("read workflow definition: %w", err)
	}

	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	base := filepath.Dir(path)

	for i := range def.Steps {
		step := &def.Steps[i]
		step.Dir = resolveDir(base, step.Dir)

		if step.Dispatch != nil {
			step.Dispatch.Dir = resolveDir(base, step.Dispatch.Dir)
		}
	}

	return def, nil
}

// ParseDefinition decodes YAML strictly: unknown keys are errors.
func ParseDefinition(data []byte) (*Definition, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var def Definition
	if err := decoder.Decode(&def); err != nil {
		return nil, fmt.Errorf("parse workflow definition: %w", err)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return &def, nil
}

func (d *Definition) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.Struct(d); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return fmt.Errorf("invalid workflow definition: %w", validationErrors)
		}

		return err
	}

	for _, step := range d.Steps {
		if err := fileio.ValidateName("step name", step.Name); err != nil {
			return fmt.Errorf("invalid workflow definition: %w", err)
		}

		if len(step.Run) > 0 && step.Dispatch != nil {
			return fmt.Errorf("invalid workflow definition: step %s has both run and dispatch", step.Name)
		}

		if step.Dispatch != nil && step.Dispatch.StepID != "" {
			if err := fileio.ValidateName("dispatch step id", step.Dispatch.StepID); err != nil {
				return fmt.Errorf("invalid workflow definition: %w", err)
			}
		}
	}

	return nil
}

// BuildOptions carry what dispatched steps need.
type BuildOptions struct {
	Dispatcher *marker.Dispatcher
	StateDir   string
	Logger     *slog.Logger
}

// Build turns a definition into executor steps.
func Build(def *Definition, opts BuildOptions) ([]workflow.Step, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	steps := make([]workflow.Step, 0, len(def.Steps))

	for _, sd := range def.Steps {
		step := workflow.Step{Name: sd.Name, Timeout: sd.Timeout}

		if sd.Dispatch == nil {
			step.Run = Command(CommandSpec{Args: sd.Run, Dir: sd.Dir, Env: sd.Env, Artifacts: sd.Artifacts}, logger)
			steps = append(steps, step)

			continue
		}

		if opts.Dispatcher == nil {
			return nil, fmt.Errorf("step %s dispatches to a worker but no dispatcher is configured", sd.Name)
		}

		dispatch := marker.Dispatch{StepID: sd.Dispatch.StepID}

		if len(sd.Dispatch.Launch) > 0 {
			dir := sd.Dispatch.Dir
			if dir == "" {
				dir = sd.Dir
			}

			dispatch.Launch = Launch(CommandSpec{Args: sd.Dispatch.Launch, Dir: dir, Env: sd.Dispatch.Env}, opts.StateDir, logger)
		}

		step.Run = opts.Dispatcher.Step(dispatch)
		steps = append(steps, step)
	}

	return steps, nil
}

func resolveDir(base, dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}

	return filepath.Join(base, dir)
}
