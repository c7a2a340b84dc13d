package mcpserver

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qloopdev/qloop/internal/loop"
	"github.com/qloopdev/qloop/internal/safety"
)

func noopRun(context.Context, string, int) (loop.LoopResult, error) {
	return loop.LoopResult{Status: loop.StatusSuccess, Reason: loop.ReasonQualityMet}, nil
}

func TestNewServer_RequiresValidatorAndRunFunc(t *testing.T) {
	t.Parallel()

	_, err := NewServer(nil, noopRun, nil, zerolog.Nop())
	require.Error(t, err)

	_, err = NewServer(safety.NewValidator(), nil, nil, zerolog.Nop())
	require.Error(t, err)

	s, err := NewServer(safety.NewValidator(), noopRun, nil, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, s)
}

func TestVerdict(t *testing.T) {
	t.Parallel()

	v := safety.NewValidator()

	got := verdict(v.ValidateCommand("ls -la"))
	assert.True(t, got.Allowed)
	assert.Empty(t, got.Reason)

	got = verdict(v.ValidateCommand("rm -rf /"))
	assert.False(t, got.Allowed)
	assert.Equal(t, 5, got.Severity)
	assert.NotEmpty(t, got.Category)
	assert.Contains(t, got.Reason, "dangerous command")

	got = verdict(v.ValidatePath("/etc/passwd"))
	assert.False(t, got.Allowed)
	assert.NotEmpty(t, got.Reason)
}
