package steps

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/durable/pkg/log"
	"github.com/dukex/durable/pkg/marker"
	"github.com/dukex/durable/pkg/models"
	"github.com/dukex/durable/pkg/persistence/file"
	"github.com/dukex/durable/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDefinition = `
name: feature
steps:
  - name: review
    run: ["echo", "reviewed {{ .metadata.ticket }}"]
    timeout: 5m
  - name: implement
    dispatch:
      step_id: impl
      launch: ["durable-worker", "exec"]
      dir: work
`

func TestParseDefinition(t *testing.T) {
	t.Parallel()

	def, err := ParseDefinition([]byte(validDefinition))
	require.NoError(t, err)

	assert.Equal(t, "feature", def.Name)
	require.Len(t, def.Steps, 2)
	assert.Equal(t, 5*time.Minute, def.Steps[0].Timeout)
	assert.Equal(t, []string{"echo", "reviewed {{ .metadata.ticket }}"}, def.Steps[0].Run)
	require.NotNil(t, def.Steps[1].Dispatch)
	assert.Equal(t, "impl", def.Steps[1].Dispatch.StepID)
}

func TestParseDefinition_Invalid(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"no name":  "steps: [{name: a, run: [\"true\"]}]",
		"no steps": "name: x\nsteps: []",
		"duplicate step names": `
name: x
steps:
  - {name: a, run: ["true"]}
  - {name: a, run: ["true"]}`,
		"neither run nor dispatch": "name: x\nsteps: [{name: a}]",
		"run and dispatch":         "name: x\nsteps: [{name: a, run: [\"true\"], dispatch: {}}]",
		"unsafe step name":         "name: x\nsteps: [{name: a/b, run: [\"true\"]}]",
		"unknown key":              "name: x\nsteps: [{name: a, run: [\"true\"], retries: 3}]",
		"bad timeout":              "name: x\nsteps: [{name: a, run: [\"true\"], timeout: soon}]",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseDefinition([]byte(content))
			require.Error(t, err)
		})
	}
}

func TestLoadDefinition_ResolvesDirectories(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "feature.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validDefinition), 0o600))

	def, err := LoadDefinition(path)
	require.NoError(t, err)

	assert.Empty(t, def.Steps[0].Dir)
	assert.Equal(t, filepath.Join(dir, "work"), def.Steps[1].Dispatch.Dir)

	_, err = LoadDefinition(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestBuild(t *testing.T) {
	t.Parallel()

	def, err := ParseDefinition([]byte(validDefinition))
	require.NoError(t, err)

	_, err = Build(def, BuildOptions{Logger: log.Discard()})
	require.Error(t, err)

	protocol, err := marker.New(t.TempDir(), log.Discard())
	require.NoError(t, err)

	built, err := Build(def, BuildOptions{
		Dispatcher: marker.NewDispatcher(protocol, time.Millisecond, time.Second, log.Discard()),
		Logger:     log.Discard(),
	})
	require.NoError(t, err)
	require.Len(t, built, 2)
	assert.Equal(t, "review", built[0].Name)
	assert.Equal(t, 5*time.Minute, built[0].Timeout)
	assert.NotNil(t, built[1].Run)
}

func TestBuild_RunsWithExecutor(t *testing.T) {
	t.Parallel()

	def, err := ParseDefinition([]byte(`
name: pipeline
steps:
  - name: review
    run: ["echo", "ok"]
  - name: summarize
    run: ["echo", "review said {{ .outputs.review }}"]
`))
	require.NoError(t, err)

	built, err := Build(def, BuildOptions{Logger: log.Discard()})
	require.NoError(t, err)

	store := file.NewEventStore(t.TempDir(), log.Discard())
	exec := workflow.NewExecutor(store, log.Discard())

	res, err := exec.Run(context.Background(), workflow.New(store, "wf", def.Name, log.Discard()), built, nil)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, res.Status)

	cp, err := store.LoadCheckpoint(context.Background(), "wf")
	require.NoError(t, err)
	assert.Equal(t, "review said ok", cp.Outputs["summarize"])
}
