// Package quality turns an evidence snapshot into a bounded 0-100 score, a
// pass/fail verdict against a configured threshold, and a ranked list of
// improvements for the next iteration's prompt. Scoring is a weighted
// composite over fixed dimensions, with deterministic ceilings for known-bad
// conditions that no weighting can buy back.
package quality

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/qloopdev/qloop/internal/evidence"
)

// Dimension names one scored aspect of an iteration's output.
type Dimension string

const (
	DimCorrectness     Dimension = "correctness"
	DimCompleteness    Dimension = "completeness"
	DimMaintainability Dimension = "maintainability"
	DimSecurity        Dimension = "security"
	DimPerformance     Dimension = "performance"
	DimTestability     Dimension = "testability"
)

// dimensionOrder fixes evaluation order so assessments are deterministic.
var dimensionOrder = []Dimension{
	DimCorrectness,
	DimCompleteness,
	DimMaintainability,
	DimSecurity,
	DimPerformance,
	DimTestability,
}

// Weights maps each dimension to its share of the composite score.
type Weights map[Dimension]float64

// DefaultWeights returns the standard split.
func DefaultWeights() Weights {
	return Weights{
		DimCorrectness:     0.25,
		DimCompleteness:    0.20,
		DimMaintainability: 0.20,
		DimSecurity:        0.15,
		DimPerformance:     0.10,
		DimTestability:     0.10,
	}
}

// DefaultThreshold is the minimum composite score considered passing.
const DefaultThreshold = 70.0

// Config is the assessor's read-only configuration surface.
type Config struct {
	Threshold float64 `json:"threshold" mapstructure:"threshold"`
	Weights   Weights `json:"weights"   mapstructure:"weights"`
}

// DefaultConfig returns the standard threshold and weight split.
func DefaultConfig() Config {
	return Config{Threshold: DefaultThreshold, Weights: DefaultWeights()}
}

// Metric is one dimension's contribution to an assessment.
type Metric struct {
	Dimension    Dimension `json:"dimension"`
	Score        float64   `json:"score"`
	Weight       float64   `json:"weight"`
	Issues       []string  `json:"issues,omitempty"`
	Suggestions  []string  `json:"suggestions,omitempty"`
	Insufficient bool      `json:"insufficient,omitempty"`
}

// Band is the coarse grade for a composite score.
type Band string

const (
	BandExcellent  Band = "excellent"
	BandGood       Band = "good"
	BandAcceptable Band = "acceptable"
	BandPoor       Band = "poor"
	BandFailing    Band = "failing"
)

// BandFor maps a composite score to its grade band.
func BandFor(score float64) Band {
	switch {
	case score >= 90:
		return BandExcellent
	case score >= 70:
		return BandGood
	case score >= 50:
		return BandAcceptable
	case score >= 30:
		return BandPoor
	default:
		return BandFailing
	}
}

// Assessment is the complete verdict for one iteration.
type Assessment struct {
	Score              float64  `json:"score"`
	Passed             bool     `json:"passed"`
	Band               Band     `json:"band"`
	Degraded           bool     `json:"degraded"`
	Threshold          float64  `json:"threshold"`
	Metrics            []Metric `json:"metrics"`
	ImprovementsNeeded []string `json:"improvements_needed"`
}

// Compare returns the score delta from prev to cur; positive means improved.
func Compare(prev, cur Assessment) float64 {
	return cur.Score - prev.Score
}

// Assessor computes assessments from evidence snapshots. It is stateless
// after construction and safe for concurrent use.
type Assessor struct {
	cfg    Config
	logger zerolog.Logger
}

// NewAssessor builds an assessor; zero-valued config fields fall back to the
// defaults so a partially configured caller still gets sane scoring.
func NewAssessor(cfg Config, logger zerolog.Logger) *Assessor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if len(cfg.Weights) == 0 {
		cfg.Weights = DefaultWeights()
	}
	return &Assessor{
		cfg:    cfg,
		logger: logger.With().Str("component", "quality").Logger(),
	}
}

// Assess scores the evidence. It never panics; any internal failure yields a
// zero, failing assessment so the caller treats the iteration as not passing.
func (a *Assessor) Assess(ev evidence.Snapshot) (out Assessment) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().Str("panic", fmt.Sprint(r)).Msg("assessment panicked, returning failing score")
			out = Assessment{
				Band:               BandFailing,
				Degraded:           true,
				Threshold:          a.cfg.Threshold,
				ImprovementsNeeded: []string{"assessment failed internally, re-run the iteration"},
			}
		}
	}()

	metrics := make([]Metric, 0, len(dimensionOrder))
	degraded := false
	for _, dim := range dimensionOrder {
		m := a.evaluate(dim, ev)
		m.Weight = a.cfg.Weights[dim]
		if m.Insufficient {
			degraded = true
		}
		metrics = append(metrics, m)
	}

	score := compositeScore(metrics)
	improvements := rankImprovements(metrics, score)

	if capped, reason := applyCeilings(ev, score); capped < score {
		score = capped
		improvements = append([]string{reason}, improvements...)
	}
	if len(improvements) > 5 {
		improvements = improvements[:5]
	}

	out = Assessment{
		Score:              score,
		Passed:             score >= a.cfg.Threshold,
		Band:               BandFor(score),
		Degraded:           degraded,
		Threshold:          a.cfg.Threshold,
		Metrics:            metrics,
		ImprovementsNeeded: improvements,
	}
	a.logger.Debug().
		Float64("score", out.Score).
		Bool("passed", out.Passed).
		Bool("degraded", out.Degraded).
		Msg("assessment complete")
	return out
}

func (a *Assessor) evaluate(dim Dimension, ev evidence.Snapshot) Metric {
	switch dim {
	case DimCorrectness:
		return evaluateCorrectness(ev)
	case DimCompleteness:
		return evaluateCompleteness(ev)
	case DimMaintainability:
		return evaluateMaintainability(ev)
	case DimSecurity:
		return evaluateSecurity(ev)
	case DimPerformance:
		return evaluatePerformance(ev)
	case DimTestability:
		return evaluateTestability(ev)
	default:
		return Metric{Dimension: dim, Insufficient: true}
	}
}

// compositeScore is the weight-normalized sum over all metrics. Insufficient
// dimensions were already set to their minimum by the evaluators, so they drag
// the composite down instead of being skipped.
func compositeScore(metrics []Metric) float64 {
	total := 0.0
	sum := 0.0
	for _, m := range metrics {
		total += m.Weight
		sum += m.Score * m.Weight
	}
	if total == 0 {
		return 0
	}
	return clamp(sum / total)
}

// applyCeilings returns the lowest applicable hard cap and its reason. Caps
// are checked worst-first so the reported reason matches the binding one.
func applyCeilings(ev evidence.Snapshot, score float64) (float64, string) {
	failed := ev.TotalTestsFailed()
	totalTests := ev.TotalTestsPassed() + failed
	failRatio := 0.0
	if totalTests > 0 {
		failRatio = float64(failed) / float64(totalTests)
	}
	maxSeverity := 0
	for _, f := range ev.Findings {
		if f.Severity > maxSeverity {
			maxSeverity = f.Severity
		}
	}

	switch {
	case maxSeverity >= 5 && score > 30:
		return 30, "security: resolve the critical security finding before anything else"
	case failRatio > 0.5 && score > 40:
		return 40, "correctness: more than half of the tests are failing"
	case ev.BuildFailed && score > 45:
		return 45, "correctness: the build is broken, fix compilation first"
	case failRatio >= 0.2 && score > 50:
		return 50, "correctness: a significant share of tests is failing"
	case maxSeverity == 4 && score > 65:
		return 65, "security: resolve the high-severity security finding"
	}
	return score, ""
}

// rankImprovements surfaces the worst dimensions' suggestions, lowest score
// first, mirroring what a reviewer would flag first.
func rankImprovements(metrics []Metric, score float64) []string {
	ranked := append([]Metric(nil), metrics...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score < ranked[j].Score })

	var out []string
	for _, m := range ranked[:min(3, len(ranked))] {
		if m.Score >= 70 {
			continue
		}
		for _, s := range m.Suggestions[:min(2, len(m.Suggestions))] {
			out = append(out, fmt.Sprintf("%s: %s", m.Dimension, s))
		}
	}
	if score < 50 {
		out = append(out, "major rework needed across dimensions")
	}
	return out
}

func evaluateCorrectness(ev evidence.Snapshot) Metric {
	m := Metric{Dimension: DimCorrectness}

	if ev.TestsRun {
		passed := ev.TotalTestsPassed()
		failed := ev.TotalTestsFailed()
		if passed+failed > 0 {
			m.Score = 100 * float64(passed) / float64(passed+failed)
		}
		if failed > 0 {
			m.Issues = append(m.Issues, fmt.Sprintf("%d test(s) failing", failed))
			m.Suggestions = append(m.Suggestions, "fix the failing tests")
		}
	} else if len(ev.CommandsRun) > 0 {
		m.Score = 70
		for _, c := range ev.CommandsRun {
			if c.ExitCode != 0 {
				m.Score = 40
				m.Issues = append(m.Issues, "commands exited non-zero")
				m.Suggestions = append(m.Suggestions, "run the failing commands and fix the errors they report")
				break
			}
		}
	} else {
		m.Insufficient = true
		m.Issues = append(m.Issues, "no test or command evidence")
		m.Suggestions = append(m.Suggestions, "run the test suite to demonstrate correctness")
	}

	if ev.BuildFailed {
		m.Score = min(m.Score, 30)
		m.Issues = append(m.Issues, "build failure detected")
		m.Suggestions = append(m.Suggestions, "restore a clean build")
	}
	m.Score = clamp(m.Score)
	return m
}

func evaluateCompleteness(ev evidence.Snapshot) Metric {
	m := Metric{Dimension: DimCompleteness}

	modified := ev.TotalFilesModified()
	if modified == 0 && len(ev.CommandsRun) == 0 {
		m.Insufficient = true
		m.Issues = append(m.Issues, "no concrete work recorded")
		m.Suggestions = append(m.Suggestions, "apply the planned changes instead of only describing them")
		return m
	}

	m.Score = 80
	if modified == 0 {
		// Commands ran but nothing changed, likely exploration only.
		m.Score = 50
		m.Issues = append(m.Issues, "no files were modified")
		m.Suggestions = append(m.Suggestions, "make the required code changes")
	}
	if ev.TestsRun && modified > 0 {
		m.Score += 10
	}
	m.Score = clamp(m.Score)
	return m
}

func evaluateMaintainability(ev evidence.Snapshot) Metric {
	m := Metric{Dimension: DimMaintainability}

	if len(ev.FileChanges) == 0 {
		m.Insufficient = true
		m.Issues = append(m.Issues, "no file changes to judge")
		return m
	}

	m.Score = 75
	for _, c := range ev.FileChanges {
		if c.Action == evidence.ActionWrite && c.LinesChanged > 500 {
			m.Score -= 15
			m.Issues = append(m.Issues, fmt.Sprintf("%s is very large for a single write", c.Path))
			m.Suggestions = append(m.Suggestions, "split oversized files into focused modules")
			break
		}
	}
	if ev.TotalFilesModified() > 20 {
		m.Score -= 10
		m.Issues = append(m.Issues, "change set touches many files")
		m.Suggestions = append(m.Suggestions, "keep each iteration's change set focused")
	}
	m.Score = clamp(m.Score)
	return m
}

func evaluateSecurity(ev evidence.Snapshot) Metric {
	m := Metric{Dimension: DimSecurity, Score: 100}

	for _, f := range ev.Findings {
		m.Score -= float64(f.Severity) * 10
		m.Issues = append(m.Issues, f.Description)
	}
	if len(ev.Findings) > 0 {
		m.Suggestions = append(m.Suggestions, "stop attempting blocked operations and take a safe approach")
	}
	m.Score = clamp(m.Score)
	return m
}

func evaluatePerformance(ev evidence.Snapshot) Metric {
	m := Metric{Dimension: DimPerformance}

	if len(ev.CommandsRun) == 0 {
		m.Insufficient = true
		m.Issues = append(m.Issues, "no execution evidence for performance")
		return m
	}
	m.Score = 70
	return m
}

func evaluateTestability(ev evidence.Snapshot) Metric {
	m := Metric{Dimension: DimTestability}

	if !ev.TestsRun {
		m.Insufficient = true
		m.Issues = append(m.Issues, "no automated tests were run")
		m.Suggestions = append(m.Suggestions, "add and run tests for the changed code")
		return m
	}

	m.Score = 65
	passed := ev.TotalTestsPassed()
	failed := ev.TotalTestsFailed()
	if passed+failed > 0 {
		m.Score = max(m.Score, 100*float64(passed)/float64(passed+failed))
	}
	for _, r := range ev.TestResults {
		if r.Coverage > 0 && r.Coverage < 60 {
			m.Score -= 15
			m.Issues = append(m.Issues, "test coverage below 60%")
			m.Suggestions = append(m.Suggestions, "raise coverage on the changed packages")
			break
		}
	}
	m.Score = clamp(m.Score)
	return m
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
