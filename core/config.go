package core

import "github.com/nasdf/tessera/storage"

// Config holds the tunables of the versioned store.
type Config struct {
	// DefaultBranch is the branch created by InitRepository.
	DefaultBranch string `yaml:"default_branch"`
	// SegmentSize is the target byte budget of a key index segment.
	SegmentSize int `yaml:"segment_size"`
	// CommitRetries bounds the CAS retry loop of commit, merge, and
	// transplant before surfacing ReferenceConflict.
	CommitRetries int `yaml:"commit_retries"`
	// RefNameShards is the number of segments in the reference name
	// registry.
	RefNameShards int `yaml:"ref_name_shards"`
	// AllowTagReassign permits updating a tag to a new head.
	AllowTagReassign bool `yaml:"allow_tag_reassign"`
	// Retry bounds retries of transient backend failures.
	Retry storage.RetryConfig `yaml:"retry"`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		DefaultBranch: "main",
		SegmentSize:   64 * 1024,
		CommitRetries: 5,
		RefNameShards: 8,
		Retry:         storage.DefaultRetryConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DefaultBranch == "" {
		c.DefaultBranch = def.DefaultBranch
	}
	if c.SegmentSize <= 0 {
		c.SegmentSize = def.SegmentSize
	}
	if c.CommitRetries <= 0 {
		c.CommitRetries = def.CommitRetries
	}
	if c.RefNameShards <= 0 {
		c.RefNameShards = def.RefNameShards
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = def.Retry
	}
	return c
}
