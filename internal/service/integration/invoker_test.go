package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shell(script string, timeout time.Duration) Invoker {
	return NewCommandInvoker(ToolOptions{
		Name:    "sh",
		Command: "sh",
		Args:    []string{"-c", script, "sh"},
		Timeout: timeout,
	}, zerolog.Nop())
}

func TestCommandInvoker_CapturesOutput(t *testing.T) {
	inv := shell(`echo "out $1"; echo "err" >&2`, 0)

	res, err := inv.Invoke(context.Background(), t.TempDir(), "arg one")
	require.NoError(t, err)

	assert.Equal(t, 0, res.ExitCode)
	assert.True(t, res.Succeeded())
	assert.Equal(t, "out arg one\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Contains(t, res.Command, `"arg one"`)
}

func TestCommandInvoker_NonZeroExitIsResult(t *testing.T) {
	inv := shell(`echo "boom" >&2; exit 3`, 0)

	res, err := inv.Invoke(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.Succeeded())
	assert.Equal(t, "boom\n", res.Stderr)
}

func TestCommandInvoker_RunsInWorkDir(t *testing.T) {
	dir := t.TempDir()
	inv := shell(`touch marker`, 0)

	_, err := inv.Invoke(context.Background(), dir)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "marker"))
	assert.NoError(t, err)
}

func TestCommandInvoker_StartFailure(t *testing.T) {
	inv := NewCommandInvoker(ToolOptions{Name: "missing", Command: "/nonexistent/tool"}, zerolog.Nop())

	_, err := inv.Invoke(context.Background(), t.TempDir())
	assert.Error(t, err)
}

func TestCommandInvoker_Timeout(t *testing.T) {
	inv := shell(`sleep 5`, 100*time.Millisecond)

	start := time.Now()
	_, err := inv.Invoke(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestNewToolchain_DefaultsNames(t *testing.T) {
	tc := NewToolchain(ToolchainOptions{}, zerolog.Nop())
	assert.Equal(t, "compiler", tc.Compiler.Name())
	assert.Equal(t, "annotator", tc.Annotator.Name())
}
