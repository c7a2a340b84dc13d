// Package config provides configuration loading and management for qloop.
package config

import (
	"time"

	"github.com/qloopdev/qloop/internal/loop"
	"github.com/qloopdev/qloop/internal/quality"
	"github.com/qloopdev/qloop/internal/session"
)

// Config is the root configuration.
type Config struct {
	Agent     session.Config  `json:"agent"               mapstructure:"agent"`
	Loop      LoopSettings    `json:"loop"                mapstructure:"loop"`
	Quality   QualitySettings `json:"quality"             mapstructure:"quality"`
	Safety    SafetySettings  `json:"safety,omitempty"    mapstructure:"safety"`
	Store     StoreSettings   `json:"store,omitempty"     mapstructure:"store"`
	Retention RetentionPolicy `json:"retention,omitempty" mapstructure:"retention"`
}

// LoopSettings tunes the iteration loop. Timeouts are seconds in the config
// file; zero values fall back to the defaults.
type LoopSettings struct {
	MaxIterations       int     `json:"max_iterations,omitempty"            mapstructure:"max_iterations"`
	QualityThreshold    float64 `json:"quality_threshold,omitempty"         mapstructure:"quality_threshold"`
	MinImprovement      float64 `json:"min_improvement,omitempty"           mapstructure:"min_improvement"`
	OscillationWindow   int     `json:"oscillation_window,omitempty"        mapstructure:"oscillation_window"`
	StagnationThreshold float64 `json:"stagnation_threshold,omitempty"      mapstructure:"stagnation_threshold"`
	TimeoutSeconds      int     `json:"timeout_seconds,omitempty"           mapstructure:"timeout_seconds"`
	IterationSeconds    int     `json:"iteration_timeout_seconds,omitempty" mapstructure:"iteration_timeout_seconds"`
	Model               string  `json:"model,omitempty"                     mapstructure:"model"`
	MaxTurns            int     `json:"max_turns,omitempty"                 mapstructure:"max_turns"`
}

// QualitySettings configures the assessor.
type QualitySettings struct {
	Threshold float64            `json:"threshold,omitempty" mapstructure:"threshold"`
	Weights   map[string]float64 `json:"weights,omitempty"   mapstructure:"weights"`
}

// SafetySettings points at an optional extra pattern pack.
type SafetySettings struct {
	PatternPack string `json:"pattern_pack,omitempty" mapstructure:"pattern_pack"`
}

// StoreSettings locates the run database.
type StoreSettings struct {
	Path string `json:"path,omitempty" mapstructure:"path"`
}

// RetentionPolicy defines how many old runs to keep.
type RetentionPolicy struct {
	KeepLast int `json:"keep_last,omitempty" mapstructure:"keep_last"`
	KeepDays int `json:"keep_days,omitempty" mapstructure:"keep_days"`
}

// Default returns the standard configuration.
func Default() Config {
	return Config{
		Agent:     session.Config{Type: "claude", Model: "sonnet"},
		Loop:      LoopSettings{},
		Retention: RetentionPolicy{KeepLast: 20},
	}
}

// ToLoop converts the settings into a loop configuration, filling defaults
// for unset fields.
func (s LoopSettings) ToLoop() loop.Config {
	cfg := loop.DefaultConfig()
	if s.MaxIterations > 0 {
		cfg.MaxIterations = s.MaxIterations
	}
	if s.QualityThreshold > 0 {
		cfg.QualityThreshold = s.QualityThreshold
	}
	if s.MinImprovement > 0 {
		cfg.MinImprovement = s.MinImprovement
	}
	if s.OscillationWindow > 0 {
		cfg.OscillationWindow = s.OscillationWindow
	}
	if s.StagnationThreshold > 0 {
		cfg.StagnationThreshold = s.StagnationThreshold
	}
	if s.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(s.TimeoutSeconds) * time.Second
	}
	if s.IterationSeconds > 0 {
		cfg.IterationTimeout = time.Duration(s.IterationSeconds) * time.Second
	}
	if s.Model != "" {
		cfg.Model = s.Model
	}
	if s.MaxTurns > 0 {
		cfg.MaxTurns = s.MaxTurns
	}
	return cfg
}

// ToQuality converts the settings into an assessor configuration.
func (s QualitySettings) ToQuality() quality.Config {
	cfg := quality.DefaultConfig()
	if s.Threshold > 0 {
		cfg.Threshold = s.Threshold
	}
	if len(s.Weights) > 0 {
		w := make(quality.Weights, len(s.Weights))
		for dim, weight := range s.Weights {
			w[quality.Dimension(dim)] = weight
		}
		cfg.Weights = w
	}
	return cfg
}
