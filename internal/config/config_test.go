package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amois3/matrixwatcher/internal/config"
)

func TestLoadClampsOutOfRangeInterval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sensors:
  crypto:
    enabled: true
    intervalSeconds: 9000
    priority: high
storage:
  basePath: ./data
`), 0o644))

	cfg, errs := config.Load(path)
	require.NotEmpty(t, errs)
	require.Equal(t, 3600.0, cfg.Sensors["crypto"].IntervalSec)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, errs := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NotEmpty(t, errs)
	require.Equal(t, "./data", cfg.Storage.BasePath)
	require.Equal(t, 30.0, cfg.Analysis.ClusterWindowSeconds)
}

func TestManagerCurrentReturnsLoadedConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  basePath: /tmp/data
  bufferSize: 500
`), 0o644))

	mgr, errs := config.NewManager(path)
	require.Empty(t, errs)
	require.Equal(t, "/tmp/data", mgr.Current().Storage.BasePath)
	require.Equal(t, 500, mgr.Current().Storage.BufferSize)
}
