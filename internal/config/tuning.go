// Package config loads optional guidance-loop tuning overrides from a JSON
// file. Fields omitted from the file keep their built-in defaults, so partial
// configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rmackay9/blueos-precision-landing/internal/landing"
)

// TuningConfig overrides the guidance loop's timing and gating parameters.
// Durations are strings like "10s" or "800ms".
type TuningConfig struct {
	StallTimeout     *string  `json:"stall_timeout,omitempty"`
	RetrySleep       *string  `json:"retry_sleep,omitempty"`
	IdleSleep        *string  `json:"idle_sleep,omitempty"`
	IdleAfter        *string  `json:"idle_after,omitempty"`
	StatsInterval    *string  `json:"stats_interval,omitempty"`
	ErrorBackoff     *string  `json:"error_backoff,omitempty"`
	GatewayTimeout   *string  `json:"gateway_timeout,omitempty"`
	GateDeviationDeg *float64 `json:"gate_deviation_deg,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file must have
// a .json extension and stay under 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that every set field parses and is in range.
func (c *TuningConfig) Validate() error {
	durations := map[string]*string{
		"stall_timeout":   c.StallTimeout,
		"retry_sleep":     c.RetrySleep,
		"idle_sleep":      c.IdleSleep,
		"idle_after":      c.IdleAfter,
		"stats_interval":  c.StatsInterval,
		"error_backoff":   c.ErrorBackoff,
		"gateway_timeout": c.GatewayTimeout,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.GateDeviationDeg != nil {
		if *c.GateDeviationDeg <= 0 || *c.GateDeviationDeg >= 180 {
			return fmt.Errorf("gate_deviation_deg must be between 0 and 180, got %f", *c.GateDeviationDeg)
		}
	}
	return nil
}

// Apply copies every set override into a loop configuration. The config must
// have passed Validate; unparseable durations are ignored here.
func (c *TuningConfig) Apply(lc *landing.Config) {
	setDuration := func(dst *time.Duration, src *string) {
		if src == nil || *src == "" {
			return
		}
		if d, err := time.ParseDuration(*src); err == nil {
			*dst = d
		}
	}
	setDuration(&lc.StallTimeout, c.StallTimeout)
	setDuration(&lc.RetrySleep, c.RetrySleep)
	setDuration(&lc.IdleSleep, c.IdleSleep)
	setDuration(&lc.IdleAfter, c.IdleAfter)
	setDuration(&lc.StatsInterval, c.StatsInterval)
	setDuration(&lc.ErrorBackoff, c.ErrorBackoff)
	setDuration(&lc.GatewayTimeout, c.GatewayTimeout)

	if c.GateDeviationDeg != nil {
		lc.GateDeviationDeg = *c.GateDeviationDeg
	}
}
