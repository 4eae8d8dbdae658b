package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8085", cfg.Server.Address)
	assert.Equal(t, 300, cfg.Pipeline.DPI)
	assert.Equal(t, "standard", cfg.Grading.DefaultPolicy)
	assert.Equal(t, "auto-multiple-choice", cfg.Tools.Recognizer.Command)
	assert.Equal(t, []string{"analyse", "--multiple"}, cfg.Tools.Recognizer.Args)
	assert.Equal(t, 20*time.Minute, cfg.Tools.Recognizer.Timeout)
	assert.Equal(t, 0.9, cfg.Quality.HighMean)
	assert.False(t, cfg.Storage.Enabled)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := []byte("projects:\n  root: /srv/qcm\npipeline:\n  dpi: 200\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.yaml"), yaml, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GRADING_DEFAULT_POLICY=harsh\n"), 0o644))
	t.Setenv("PIPELINE_DPI", "150")
	t.Cleanup(func() { os.Unsetenv("GRADING_DEFAULT_POLICY") })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/qcm", cfg.Projects.Root)
	assert.Equal(t, 150, cfg.Pipeline.DPI)
	assert.Equal(t, "harsh", cfg.Grading.DefaultPolicy)
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
