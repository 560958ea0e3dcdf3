package steps

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dukex/durable/pkg/log"
	"github.com/dukex/durable/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stepInput() workflow.StepInput {
	return workflow.StepInput{
		WorkflowID:   "wf-1",
		WorkflowName: "feature",
		Index:        2,
		Name:         "implement",
		Outputs:      map[string]any{"plan": "add a flag"},
		Metadata:     map[string]any{"ticket": "T-3"},
	}
}

func TestCommand_OutputFromStdout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec CommandSpec
		want any
	}{
		{
			name: "templated arguments",
			spec: CommandSpec{Args: []string{"echo", "{{ .workflow.id }}", "{{ .outputs.plan }}", "{{ .metadata.ticket }}"}},
			want: "wf-1 add a flag T-3",
		},
		{
			name: "step environment",
			spec: CommandSpec{Args: []string{"sh", "-c", `printf '%s/%s/%s' "$DURABLE_WORKFLOW_ID" "$DURABLE_STEP_NAME" "$DURABLE_STEP_INDEX"`}},
			want: "wf-1/implement/2",
		},
		{
			name: "templated env",
			spec: CommandSpec{
				Args: []string{"sh", "-c", `printf '%s' "$GREETING"`},
				Env:  map[string]string{"GREETING": "hello {{ .step.name }}"},
			},
			want: "hello implement",
		},
		{
			name: "json output",
			spec: CommandSpec{Args: []string{"sh", "-c", `echo '{"files": 2}'`}},
			want: map[string]any{"files": 2.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, err := Command(tt.spec, log.Discard())(context.Background(), stepInput())
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Output)
		})
	}
}

func TestCommand_NonZeroExit(t *testing.T) {
	t.Parallel()

	_, err := Command(CommandSpec{Args: []string{"sh", "-c", "echo oops >&2; exit 3"}}, log.Discard())(context.Background(), stepInput())
	require.Error(t, err)
	assert.Equal(t, "sh exited with code 3: oops", err.Error())
}

func TestCommand_RenderError(t *testing.T) {
	t.Parallel()

	_, err := Command(CommandSpec{Args: []string{"echo", "{{ .outputs.missing }}"}}, log.Discard())(context.Background(), stepInput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "render command")

	_, err = Command(CommandSpec{}, log.Discard())(context.Background(), stepInput())
	require.Error(t, err)
}

func TestCommand_StopsWithContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Command(CommandSpec{Args: []string{"sleep", "5"}}, log.Discard())(ctx, stepInput())

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestCommand_Artifacts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	res, err := Command(CommandSpec{
		Args:      []string{"sh", "-c", "echo done > out.txt"},
		Dir:       dir,
		Artifacts: []string{"out.txt"},
	}, log.Discard())(context.Background(), stepInput())
	require.NoError(t, err)
	require.Len(t, res.Artifacts, 1)
	assert.Equal(t, filepath.Join(dir, "out.txt"), res.Artifacts[0].Path)

	_, err = Command(CommandSpec{
		Args:      []string{"true"},
		Dir:       dir,
		Artifacts: []string{"never.txt"},
	}, log.Discard())(context.Background(), stepInput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never.txt")
}

func TestLaunch_RunsInBackground(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stateDir := t.TempDir()

	launch := Launch(CommandSpec{
		Args: []string{"sh", "-c", `printf '%s %s' "$DURABLE_STATE_DIR" "$DURABLE_STEP_ID" > launched.txt`},
		Dir:  dir,
	}, stateDir, log.Discard())

	require.NoError(t, launch(context.Background(), stepInput(), "impl-worker"))

	target := filepath.Join(dir, "launched.txt")

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(target)

		return err == nil && strings.TrimSpace(string(data)) == stateDir+" impl-worker"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLaunch_StartFailure(t *testing.T) {
	t.Parallel()

	launch := Launch(CommandSpec{Args: []string{"/nonexistent/worker"}}, t.TempDir(), log.Discard())

	require.Error(t, launch(context.Background(), stepInput(), "x"))
}
