// Package steps adapts external programs and workflow definition files to step functions.
package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/durable/pkg/marker"
	"github.com/dukex/durable/pkg/models"
	"github.com/dukex/durable/pkg/template"
	"github.com/dukex/durable/pkg/workflow"
)

// Environment variables describing the step to the programs it runs.
const (
	EnvWorkflowID   = "DURABLE_WORKFLOW_ID"
	EnvWorkflowName = "DURABLE_WORKFLOW_NAME"
	EnvStepName     = "DURABLE_STEP_NAME"
	EnvStepID       = "DURABLE_STEP_ID"
	EnvStepIndex    = "DURABLE_STEP_INDEX"
	EnvStateDir     = "DURABLE_STATE_DIR"
)

// killGrace is how long a cancelled command may take to exit after being killed
// before its output pipes are closed.
const killGrace = 5 * time.Second

// CommandSpec describes a program to run. Args may use the template package syntax,
// e.g. "{{ .workflow.id }}" or "{{ .outputs.review }}".
type CommandSpec struct {
	Args      []string
	Dir       string
	Env       map[string]string
	Artifacts []string // files the command is expected to produce, relative to Dir
}

// Command runs the program to completion as a step. Trimmed stdout is the step
// output, decoded when it is a JSON object or array. A non-zero exit fails the step
// with the tail of stderr.
func Command(spec CommandSpec, logger *slog.Logger) workflow.StepFunc {
	logger = logger.With("module", "command_step")

	return func(ctx context.Context, input workflow.StepInput) (workflow.StepResult, error) {
		cmd, err := spec.command(ctx, input, "")
		if err != nil {
			return workflow.StepResult{}, err
		}

		var stdout, stderr bytes.Buffer

		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		logger.Debug("Running command", "workflow_id", input.WorkflowID, "step_name", input.Name, "args", cmd.Args)

		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return workflow.StepResult{}, ctx.Err()
			}

			return workflow.StepResult{}, commandError(cmd.Args[0], err, stderr.String())
		}

		artifacts, err := spec.collectArtifacts()
		if err != nil {
			return workflow.StepResult{}, err
		}

		return workflow.StepResult{
			Output:    template.Decode(stdout.String()),
			Artifacts: artifacts,
		}, nil
	}
}

// Launch starts the program in the background and returns immediately, as a worker
// for a dispatched step. The process is not bound to ctx: it keeps running when the
// dispatcher gives up waiting, and its markers are picked up on resume.
func Launch(spec CommandSpec, stateDir string, logger *slog.Logger) marker.LaunchFunc {
	logger = logger.With("module", "worker_launcher")

	return func(_ context.Context, input workflow.StepInput, stepID string) error {
		cmd, err := spec.command(context.Background(), input, stepID)
		if err != nil {
			return err
		}

		cmd.Env = append(cmd.Env, EnvStateDir+"="+stateDir)
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr

		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start %s: %w", cmd.Args[0], err)
		}

		logger.Info("Worker started", "workflow_id", input.WorkflowID, "step_id", stepID, "pid", cmd.Process.Pid)

		go func() {
			err := cmd.Wait()
			logger.Info("Worker exited", "workflow_id", input.WorkflowID, "step_id", stepID, "error", err)
		}()

		return nil
	}
}

func (s CommandSpec) command(ctx context.Context, input workflow.StepInput, stepID string) (*exec.Cmd, error) {
	if len(s.Args) == 0 {
		return nil, errors.New("command has no arguments")
	}

	if stepID == "" {
		stepID = input.Name
	}

	data := template.StepContext(input.WorkflowID, input.WorkflowName, input.Name, input.Index, input.Outputs, input.Metadata)

	args, err := template.RenderAll(s.Args, data)
	if err != nil {
		return nil, fmt.Errorf("render command: %w", err)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) // #nosec G204 -- commands come from the workflow definition
	cmd.Dir = s.Dir
	cmd.WaitDelay = killGrace
	cmd.Env = append(os.Environ(),
		EnvWorkflowID+"="+input.WorkflowID,
		EnvWorkflowName+"="+input.WorkflowName,
		EnvStepName+"="+input.Name,
		EnvStepID+"="+stepID,
		EnvStepIndex+"="+strconv.Itoa(input.Index),
	)

	for _, key := range slices.Sorted(maps.Keys(s.Env)) {
		value, err := template.RenderAll([]string{s.Env[key]}, data)
		if err != nil {
			return nil, fmt.Errorf("render env %s: %w", key, err)
		}

		cmd.Env = append(cmd.Env, key+"="+value[0])
	}

	return cmd, nil
}

func (s CommandSpec) collectArtifacts() ([]models.Artifact, error) {
	artifacts := make([]models.Artifact, 0, len(s.Artifacts))

	for _, path := range s.Artifacts {
		full := path
		if s.Dir != "" && !filepath.IsAbs(path) {
			full = filepath.Join(s.Dir, path)
		}

		if _, err := os.Stat(full); err != nil {
			return nil, fmt.Errorf("expected artifact %s: %w", path, err)
		}

		artifacts = append(artifacts, models.Artifact{Path: full, Type: "file"})
	}

	return artifacts, nil
}

func commandError(name string, err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	if len(stderr) > 512 {
		stderr = "..." + stderr[len(stderr)-512:]
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if stderr == "" {
			return fmt.Errorf("%s exited with code %d", name, exitErr.ExitCode())
		}

		return fmt.Errorf("%s exited with code %d: %s", name, exitErr.ExitCode(), stderr)
	}

	return fmt.Errorf("run %s: %w", name, err)
}
