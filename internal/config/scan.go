package config

import "errors"

// ScanConfig controls the change-driven scheduler.
type ScanConfig struct {
	// DebounceMs is how long mutation notifications settle before a scan.
	DebounceMs int `yaml:"debounce_ms"`

	// PollIntervalMs is how often the page event bridge is drained.
	PollIntervalMs int `yaml:"poll_interval_ms"`

	// MaxRootsPerCycle caps how many pending roots one scan pass visits.
	MaxRootsPerCycle int `yaml:"max_roots_per_cycle"`
}

func (c *ScanConfig) validate() error {
	if c.MaxRootsPerCycle <= 0 {
		return errors.New("max_roots_per_cycle must be positive")
	}
	return nil
}
