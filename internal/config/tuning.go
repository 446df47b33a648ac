// Package config loads the JSON tuning file and the AOI region definitions.
// Fields omitted from the JSON retain their defaults, so partial configs are
// safe; Get* accessors provide the fallback values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/refgaze-data/refgaze/internal/aoi"
	"github.com/refgaze-data/refgaze/internal/heatmap"
	"github.com/refgaze-data/refgaze/internal/pipeline"
	"github.com/refgaze-data/refgaze/internal/record"
	"github.com/refgaze-data/refgaze/internal/registration"
)

// TuningConfig is the root tuning schema. Pointer fields distinguish "not
// set" from zero values.
type TuningConfig struct {
	// Registration params
	MaxFeatures      *int     `json:"max_features,omitempty"`
	FASTThreshold    *int     `json:"fast_threshold,omitempty"`
	RatioTest        *float64 `json:"ratio_test,omitempty"`
	MinMatches       *int     `json:"min_matches,omitempty"`
	MinInliers       *int     `json:"min_inliers,omitempty"`
	MinConfidence    *float64 `json:"min_confidence,omitempty"`
	RANSACThreshold  *float64 `json:"ransac_threshold,omitempty"`
	RANSACIterations *int     `json:"ransac_iterations,omitempty"`

	// Pipeline params
	DecayTau       *string  `json:"decay_tau,omitempty"`       // duration string like "2s"
	StalenessBound *string  `json:"staleness_bound,omitempty"` // duration string like "500ms"
	HistorySize    *int     `json:"history_size,omitempty"`
	Smoothing      *float64 `json:"smoothing,omitempty"`

	// AOI params
	AOIMinConfidence    *float64 `json:"aoi_min_confidence,omitempty"`
	FixationRadius      *float64 `json:"fixation_radius,omitempty"`
	FixationMinDuration *string  `json:"fixation_min_duration,omitempty"`

	// Heatmap params
	HeatmapSigma    *float64 `json:"heatmap_sigma,omitempty"`
	HeatmapPolicy   *string  `json:"heatmap_policy,omitempty"` // "cumulative" or "decaying"
	HeatmapHalfLife *float64 `json:"heatmap_half_life,omitempty"`

	// Recorder params
	RecorderQueueSize     *int    `json:"recorder_queue_size,omitempty"`
	RecorderBatchSize     *int    `json:"recorder_batch_size,omitempty"`
	RecorderFlushInterval *string `json:"recorder_flush_interval,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset, which
// resolves to the package defaults everywhere.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
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

// Validate checks that the configuration values are usable.
func (c *TuningConfig) Validate() error {
	if c.RatioTest != nil && (*c.RatioTest <= 0 || *c.RatioTest > 1) {
		return fmt.Errorf("ratio_test must be in (0, 1], got %f", *c.RatioTest)
	}
	if c.MinConfidence != nil && (*c.MinConfidence < 0 || *c.MinConfidence > 1) {
		return fmt.Errorf("min_confidence must be between 0 and 1, got %f", *c.MinConfidence)
	}
	if c.Smoothing != nil && (*c.Smoothing <= 0 || *c.Smoothing > 1) {
		return fmt.Errorf("smoothing must be in (0, 1], got %f", *c.Smoothing)
	}
	for name, field := range map[string]*string{
		"decay_tau":               c.DecayTau,
		"staleness_bound":         c.StalenessBound,
		"fixation_min_duration":   c.FixationMinDuration,
		"recorder_flush_interval": c.RecorderFlushInterval,
	} {
		if field != nil && *field != "" {
			if _, err := time.ParseDuration(*field); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *field, err)
			}
		}
	}
	if c.HeatmapPolicy != nil {
		p := heatmap.Policy(*c.HeatmapPolicy)
		if p != heatmap.PolicyCumulative && p != heatmap.PolicyDecaying {
			return fmt.Errorf("unknown heatmap_policy %q", *c.HeatmapPolicy)
		}
	}
	return nil
}

// RegistrationConfig resolves the registration parameters.
func (c *TuningConfig) RegistrationConfig() registration.Config {
	out := registration.DefaultConfig()
	if c.MaxFeatures != nil {
		out.MaxFeatures = *c.MaxFeatures
	}
	if c.FASTThreshold != nil {
		out.FASTThreshold = *c.FASTThreshold
	}
	if c.RatioTest != nil {
		out.RatioTest = *c.RatioTest
	}
	if c.MinMatches != nil {
		out.MinMatches = *c.MinMatches
	}
	if c.MinInliers != nil {
		out.MinInliers = *c.MinInliers
	}
	if c.MinConfidence != nil {
		out.MinConfidence = *c.MinConfidence
	}
	if c.RANSACThreshold != nil {
		out.RANSACThreshold = *c.RANSACThreshold
	}
	if c.RANSACIterations != nil {
		out.RANSACIterations = *c.RANSACIterations
	}
	return out
}

// SessionConfig resolves the session parameters for a reference image of the
// given dimensions.
func (c *TuningConfig) SessionConfig(refW, refH int) pipeline.Config {
	out := pipeline.DefaultConfig()
	out.ReferenceW = refW
	out.ReferenceH = refH
	out.DecayTau = c.getDuration(c.DecayTau, out.DecayTau)
	out.StalenessBound = c.getDuration(c.StalenessBound, out.StalenessBound)
	if c.HistorySize != nil {
		out.HistorySize = *c.HistorySize
	}
	if c.Smoothing != nil {
		out.Smoothing = *c.Smoothing
	}
	out.AOI = c.AOIConfig()
	out.Heatmap = c.HeatmapConfig()
	return out
}

// AOIConfig resolves the AOI tracking parameters.
func (c *TuningConfig) AOIConfig() aoi.Config {
	out := aoi.DefaultConfig()
	if c.AOIMinConfidence != nil {
		out.MinConfidence = *c.AOIMinConfidence
	}
	if c.FixationRadius != nil {
		out.FixationRadius = *c.FixationRadius
	}
	out.FixationMinDuration = c.getDuration(c.FixationMinDuration, out.FixationMinDuration)
	return out
}

// HeatmapConfig resolves the heatmap parameters.
func (c *TuningConfig) HeatmapConfig() heatmap.Config {
	out := heatmap.DefaultConfig()
	if c.HeatmapSigma != nil {
		out.Sigma = *c.HeatmapSigma
	}
	if c.HeatmapPolicy != nil {
		out.Policy = heatmap.Policy(*c.HeatmapPolicy)
	}
	if c.HeatmapHalfLife != nil {
		out.DecayHalfLife = *c.HeatmapHalfLife
	}
	return out
}

// RecorderConfig resolves the recorder queue parameters.
func (c *TuningConfig) RecorderConfig() record.Config {
	out := record.DefaultConfig()
	if c.RecorderQueueSize != nil {
		out.QueueSize = *c.RecorderQueueSize
	}
	if c.RecorderBatchSize != nil {
		out.BatchSize = *c.RecorderBatchSize
	}
	out.FlushInterval = c.getDuration(c.RecorderFlushInterval, out.FlushInterval)
	return out
}

func (c *TuningConfig) getDuration(field *string, fallback time.Duration) time.Duration {
	if field == nil || *field == "" {
		return fallback
	}
	d, err := time.ParseDuration(*field)
	if err != nil {
		return fallback
	}
	return d
}

// LoadRegions reads the AOI region definitions from a JSON file holding an
// array of {name, polygon} objects.
func LoadRegions(path string) ([]aoi.RegionDef, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read regions file: %w", err)
	}
	var defs []aoi.RegionDef
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse regions JSON: %w", err)
	}
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("region with empty name")
		}
		if len(d.Polygon) < 3 {
			return nil, fmt.Errorf("region %q has %d vertices, need at least 3", d.Name, len(d.Polygon))
		}
	}
	return defs, nil
}
