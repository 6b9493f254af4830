package catalog

import "strings"

// Config holds the catalog tunables.
type Config struct {
	// Warehouse is the root URI all table and view locations must live
	// under.
	Warehouse string `yaml:"warehouse"`
}

// DefaultConfig returns the default catalog configuration.
func DefaultConfig() Config {
	return Config{Warehouse: "memory://warehouse"}
}

func (c Config) withDefaults() Config {
	if c.Warehouse == "" {
		c.Warehouse = DefaultConfig().Warehouse
	}
	c.Warehouse = strings.TrimSuffix(c.Warehouse, "/")
	return c
}
