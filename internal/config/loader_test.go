package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bloomd.yaml")
	contents := "data_dir: /var/lib/bloomd\nexpected_items: 2000000\nfalse_positive_rate: 0.001\nflush_interval: 5s\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := FromFile(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/bloomd", cfg.DataDir)
	require.Equal(t, uint64(2000000), cfg.ExpectedItems)
	require.Equal(t, 0.001, cfg.FalsePositiveRate)
	require.Equal(t, 5*time.Second, cfg.FlushInterval)
}

func TestFromFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bloomd.json")
	contents := `{"data_dir": "/tmp/bloomd", "expected_items": 100}`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := FromFile(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/bloomd", cfg.DataDir)
	require.Equal(t, uint64(100), cfg.ExpectedItems)
}

func TestFromFileUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bloomd.toml")
	require.NoError(t, os.WriteFile(path, []byte("x=1"), 0o644))

	_, err := FromFile(path)
	require.Error(t, err)
}

func TestFromFileMissing(t *testing.T) {
	_, err := FromFile("/does/not/exist.yaml")
	require.Error(t, err)
}
