package quality

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qloopdev/qloop/internal/evidence"
)

func newAssessor(t *testing.T) *Assessor {
	t.Helper()
	return NewAssessor(DefaultConfig(), zerolog.Nop())
}

// healthyEvidence builds a snapshot of a productive iteration: files changed,
// commands ran, and the whole suite passed.
func healthyEvidence(t *testing.T) evidence.Snapshot {
	t.Helper()
	c := evidence.NewCollector()
	c.RecordFileChange("server.go", evidence.ActionWrite, 40)
	c.RecordFileChange("server_test.go", evidence.ActionWrite, 60)
	c.RecordCommand("go build ./...", "", 0)
	c.RecordTestResults(evidence.TestResult{Framework: "go", Passed: 12, Failed: 0})
	return c.Snapshot()
}

func TestAssess_HealthyIterationPasses(t *testing.T) {
	t.Parallel()

	a := newAssessor(t)
	got := a.Assess(healthyEvidence(t))

	assert.True(t, got.Passed)
	assert.False(t, got.Degraded)
	assert.GreaterOrEqual(t, got.Score, 70.0)
	assert.Equal(t, BandFor(got.Score), got.Band)
	require.Len(t, got.Metrics, 6)
}

func TestAssess_EmptyEvidenceIsDegradedAndFailing(t *testing.T) {
	t.Parallel()

	a := newAssessor(t)
	got := a.Assess(evidence.NewCollector().Snapshot())

	assert.False(t, got.Passed)
	assert.True(t, got.Degraded)
	assert.Less(t, got.Score, 50.0)
	assert.NotEmpty(t, got.ImprovementsNeeded)
}

func TestAssess_CriticalSecurityFindingCapsAt30(t *testing.T) {
	t.Parallel()

	c := evidence.NewCollector()
	c.RecordFileChange("main.go", evidence.ActionWrite, 10)
	c.RecordCommand("go build ./...", "", 0)
	c.RecordTestResults(evidence.TestResult{Framework: "go", Passed: 20, Failed: 0})
	c.RecordSecurityFinding(5, "dangerous command blocked: rm -rf /")

	got := newAssessor(t).Assess(c.Snapshot())

	assert.InDelta(t, 30.0, got.Score, 0.001)
	assert.False(t, got.Passed)
	require.NotEmpty(t, got.ImprovementsNeeded)
	assert.Contains(t, got.ImprovementsNeeded[0], "critical security finding")
}

func TestAssess_HighSecurityFindingCapsAt65(t *testing.T) {
	t.Parallel()

	c := evidence.NewCollector()
	c.RecordFileChange("main.go", evidence.ActionWrite, 10)
	c.RecordCommand("go build ./...", "", 0)
	c.RecordTestResults(evidence.TestResult{Framework: "go", Passed: 20, Failed: 0})
	c.RecordSecurityFinding(4, "git history rewrite blocked")

	got := newAssessor(t).Assess(c.Snapshot())

	assert.InDelta(t, 65.0, got.Score, 0.001)
	assert.False(t, got.Passed)
}

func TestAssess_MajorityTestsFailingCapsAt40(t *testing.T) {
	t.Parallel()

	c := evidence.NewCollector()
	c.RecordFileChange("main.go", evidence.ActionWrite, 10)
	c.RecordTestResults(evidence.TestResult{Framework: "pytest", Passed: 2, Failed: 8})

	got := newAssessor(t).Assess(c.Snapshot())

	assert.InDelta(t, 40.0, got.Score, 0.001)
}

func TestAssess_PartialTestFailuresCapAt50(t *testing.T) {
	t.Parallel()

	c := evidence.NewCollector()
	c.RecordFileChange("main.go", evidence.ActionWrite, 10)
	c.RecordCommand("go build ./...", "", 0)
	c.RecordTestResults(evidence.TestResult{Framework: "go", Passed: 3, Failed: 1})

	got := newAssessor(t).Assess(c.Snapshot())

	assert.InDelta(t, 50.0, got.Score, 0.001)
}

func TestAssess_BuildFailureCapsAt45(t *testing.T) {
	t.Parallel()

	c := evidence.NewCollector()
	c.RecordFileChange("main.go", evidence.ActionWrite, 10)
	c.RecordCommand("go build ./...", "main.go:3:1: syntax error", 1)
	c.RecordTestResults(evidence.TestResult{Framework: "go", Passed: 10, Failed: 0})

	got := newAssessor(t).Assess(c.Snapshot())

	assert.LessOrEqual(t, got.Score, 45.0)
	assert.False(t, got.Passed)
}

func TestAssess_ImprovementsBoundedAndRanked(t *testing.T) {
	t.Parallel()

	got := newAssessor(t).Assess(evidence.NewCollector().Snapshot())

	assert.LessOrEqual(t, len(got.ImprovementsNeeded), 5)
	for _, imp := range got.ImprovementsNeeded {
		assert.NotEmpty(t, imp)
	}
}

func TestNewAssessor_ZeroConfigFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	a := NewAssessor(Config{}, zerolog.Nop())
	got := a.Assess(healthyEvidence(t))

	assert.InDelta(t, DefaultThreshold, got.Threshold, 0.001)
	assert.True(t, got.Passed)
}

func TestBandFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, BandExcellent, BandFor(95))
	assert.Equal(t, BandGood, BandFor(70))
	assert.Equal(t, BandAcceptable, BandFor(50))
	assert.Equal(t, BandPoor, BandFor(30))
	assert.Equal(t, BandFailing, BandFor(10))
}

func TestCompare(t *testing.T) {
	t.Parallel()

	prev := Assessment{Score: 40}
	cur := Assessment{Score: 70}
	assert.InDelta(t, 30.0, Compare(prev, cur), 0.001)
	assert.InDelta(t, -30.0, Compare(cur, prev), 0.001)
}
