package warmpool

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFile_EmptyPath(t *testing.T) {
	cfg, err := LoadConfigFile("")
	require.NoError(t, err)
	assert.Empty(t, cfg)
}

func TestLoadConfigFile_MissingFile(t *testing.T) {
	cfg, err := LoadConfigFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg)
}

func TestLoadConfigFile_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warmpool.yaml")
	contents := "python-basic:\n  pool_size: 3\n  min_size: 1\n  max_idle_seconds: 180\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.Contains(t, cfg, "python-basic")
	assert.Equal(t, 3, cfg["python-basic"].PoolSize)
	assert.Equal(t, 1, cfg["python-basic"].MinSize)
	assert.Equal(t, 180*time.Second, cfg["python-basic"].MaxIdleTime)
}

func TestLoadConfigFile_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: valid: yaml: at: all:"), 0o644))

	_, err := LoadConfigFile(path)
	assert.Error(t, err)
}
