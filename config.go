package tessera

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nasdf/tessera/catalog"
	"github.com/nasdf/tessera/core"
	"github.com/nasdf/tessera/task"
)

// StorageConfig selects and tunes the storage backend.
type StorageConfig struct {
	// Path is the badger database directory. Ignored when InMemory is set.
	Path string `yaml:"path"`
	// InMemory keeps everything in process memory.
	InMemory bool `yaml:"in_memory"`
}

// Config is the root configuration of a repository.
type Config struct {
	Storage StorageConfig  `yaml:"storage"`
	Store   core.Config    `yaml:"store"`
	Catalog catalog.Config `yaml:"catalog"`
	Tasks   task.Config    `yaml:"tasks"`
}

// DefaultConfig returns an in-memory repository configuration.
func DefaultConfig() Config {
	return Config{
		Storage: StorageConfig{InMemory: true},
		Store:   core.DefaultConfig(),
		Catalog: catalog.DefaultConfig(),
		Tasks:   task.DefaultConfig(),
	}
}

// LoadConfig reads a yaml configuration file. Absent fields keep their
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
