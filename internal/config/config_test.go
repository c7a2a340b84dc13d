package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qloopdev/qloop/internal/loop"
	"github.com/qloopdev/qloop/internal/quality"
)

func TestLoopSettings_ToLoopFillsDefaults(t *testing.T) {
	t.Parallel()

	got := LoopSettings{}.ToLoop()
	assert.Equal(t, loop.DefaultConfig(), got)
}

func TestLoopSettings_ToLoopOverrides(t *testing.T) {
	t.Parallel()

	got := LoopSettings{
		MaxIterations:    4,
		QualityThreshold: 85,
		TimeoutSeconds:   600,
		IterationSeconds: 120,
		Model:            "opus",
	}.ToLoop()

	assert.Equal(t, 4, got.MaxIterations)
	assert.InDelta(t, 85.0, got.QualityThreshold, 0.001)
	assert.Equal(t, 10*time.Minute, got.Timeout)
	assert.Equal(t, 2*time.Minute, got.IterationTimeout)
	assert.Equal(t, "opus", got.Model)
	// Untouched fields keep their defaults.
	assert.Equal(t, loop.DefaultConfig().MinImprovement, got.MinImprovement)
}

func TestQualitySettings_ToQuality(t *testing.T) {
	t.Parallel()

	got := QualitySettings{
		Threshold: 80,
		Weights:   map[string]float64{"correctness": 0.5, "security": 0.5},
	}.ToQuality()

	assert.InDelta(t, 80.0, got.Threshold, 0.001)
	assert.InDelta(t, 0.5, got.Weights[quality.DimCorrectness], 0.001)
	assert.InDelta(t, 0.5, got.Weights[quality.DimSecurity], 0.001)

	assert.Equal(t, quality.DefaultConfig(), QualitySettings{}.ToQuality())
}

func TestValidateSettings_AcceptsWellFormedConfig(t *testing.T) {
	t.Parallel()

	settings := map[string]any{
		"agent": map[string]any{
			"type":  "claude",
			"model": "sonnet",
		},
		"loop": map[string]any{
			"max_iterations":            3,
			"quality_threshold":         70,
			"iteration_timeout_seconds": 300,
		},
		"quality": map[string]any{
			"threshold": 70,
			"weights": map[string]any{
				"correctness": 0.4,
				"security":    0.6,
			},
		},
		"retention": map[string]any{
			"keep_last": 10,
		},
	}
	require.NoError(t, ValidateSettings(settings))
}

func TestValidateSettings_RejectsExecAgentWithoutCmd(t *testing.T) {
	t.Parallel()

	settings := map[string]any{
		"agent": map[string]any{"type": "exec"},
	}
	require.Error(t, ValidateSettings(settings))
}

func TestValidateSettings_RejectsUnknownKeysAndBadValues(t *testing.T) {
	t.Parallel()

	assert.Error(t, ValidateSettings(map[string]any{"agnet": map[string]any{}}))
	// Agent types without a parseable stream format are not accepted.
	assert.Error(t, ValidateSettings(map[string]any{
		"agent": map[string]any{"type": "codex"},
	}))
	assert.Error(t, ValidateSettings(map[string]any{
		"agent": map[string]any{"type": "claude"},
		"loop":  map[string]any{"max_iterations": 0},
	}))
	assert.Error(t, ValidateSettings(map[string]any{
		"agent":   map[string]any{"type": "claude"},
		"quality": map[string]any{"weights": map[string]any{"vibes": 1.0}},
	}))
}
