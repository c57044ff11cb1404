package crawler

import (
	"fmt"
	"os"
	"time"
)

// Config captures the knobs that shape one extraction run.
type Config struct {
	// RunTag prefixes workspace directories and archive names.
	RunTag         string
	TempDir        string
	MaxRecords     int
	MaxPages       int
	Policy         FetchPolicy
	RunTimeout     time.Duration
	ProxyMandatory bool
	Warmup         bool
	// EventTopic receives run-completed events; empty disables publishing.
	EventTopic string
}

// DefaultConfig mirrors the values used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		RunTag:     "scholar",
		TempDir:    os.TempDir(),
		MaxRecords: DefaultMaxRecords,
		MaxPages:   DefaultMaxPages,
		Policy:     DefaultFetchPolicy(),
		RunTimeout: 15 * time.Minute,
		Warmup:     true,
	}
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.RunTag == "" {
		return fmt.Errorf("run tag must be set")
	}
	if c.TempDir == "" {
		return fmt.Errorf("temp dir must be set")
	}
	if c.MaxRecords < 0 {
		return fmt.Errorf("max records must be >= 0")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("max pages must be >= 0")
	}
	if c.Policy.MaxRetries < 1 {
		return fmt.Errorf("max retries must be >= 1")
	}
	if c.Policy.RetryDelayMin < 0 || c.Policy.RetryDelayMax < c.Policy.RetryDelayMin {
		return fmt.Errorf("retry delay range [%s, %s] is invalid", c.Policy.RetryDelayMin, c.Policy.RetryDelayMax)
	}
	if c.RunTimeout < 0 {
		return fmt.Errorf("run timeout must be >= 0")
	}
	return nil
}
