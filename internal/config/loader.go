package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultExpectedItems     = 1_000_000
	defaultFalsePositiveRate = 0.01
	defaultFlushInterval     = 10 * time.Second
)

// ManagerConfig is the typed view of the settings the filter manager
// needs: where filters live on disk, and the default parameters used to
// size a newly created filter.
type ManagerConfig struct {
	DataDir           string
	ExpectedItems     uint64
	FalsePositiveRate float64
	FlushInterval     time.Duration
}

// Default returns a ManagerConfig with reasonable defaults and a
// relative data directory, suitable for tests and for a first run.
func Default() ManagerConfig {
	return ManagerConfig{
		DataDir:           "./data",
		ExpectedItems:     defaultExpectedItems,
		FalsePositiveRate: defaultFalsePositiveRate,
		FlushInterval:     defaultFlushInterval,
	}
}

// FromFile loads a Config from a YAML or JSON file, chosen by
// extension, and folds it onto ManagerConfig's defaults.
func FromFile(path string) (ManagerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ManagerConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw map[string]any
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		raw, err = fromYAML(data)
	case ".json":
		raw, err = fromJSON(data)
	default:
		return ManagerConfig{}, fmt.Errorf("config: unsupported extension %q", ext)
	}
	if err != nil {
		return ManagerConfig{}, err
	}

	c := New(raw)
	mc := Default()
	mc.DataDir = c.String("data_dir", mc.DataDir)
	mc.ExpectedItems = uint64(c.Int("expected_items", int(mc.ExpectedItems)))
	mc.FalsePositiveRate = c.Float("false_positive_rate", mc.FalsePositiveRate)
	mc.FlushInterval = c.Duration("flush_interval", mc.FlushInterval)
	return mc, nil
}

func fromYAML(data []byte) (map[string]any, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	return raw, nil
}

func fromJSON(data []byte) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse json: %w", err)
	}
	return raw, nil
}
