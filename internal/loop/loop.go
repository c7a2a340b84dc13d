// Package loop orchestrates iterative, quality-gated agent runs. Each
// iteration resets the evidence ledger, builds a context-aware prompt, runs
// one agent session with the hook pipeline attached, assesses the resulting
// evidence, and then decides whether to continue, succeed, or terminate.
package loop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/qloopdev/qloop/internal/evidence"
	"github.com/qloopdev/qloop/internal/hooks"
	"github.com/qloopdev/qloop/internal/quality"
	"github.com/qloopdev/qloop/internal/safety"
	"github.com/qloopdev/qloop/internal/session"
)

// HardMaxIterations is the ceiling no configuration can exceed. This is a
// safety property, not a tunable.
const HardMaxIterations = 5

// oscillationMagnitude is the minimum score swing that counts toward
// oscillation detection.
const oscillationMagnitude = 5.0

// Config tunes one run. It is immutable for the life of the run; the
// effective iteration limit is clamped against HardMaxIterations.
type Config struct {
	MaxIterations       int           `json:"max_iterations"       mapstructure:"max_iterations"`
	QualityThreshold    float64       `json:"quality_threshold"    mapstructure:"quality_threshold"`
	MinImprovement      float64       `json:"min_improvement"      mapstructure:"min_improvement"`
	OscillationWindow   int           `json:"oscillation_window"   mapstructure:"oscillation_window"`
	StagnationThreshold float64       `json:"stagnation_threshold" mapstructure:"stagnation_threshold"`
	Timeout             time.Duration `json:"timeout"              mapstructure:"timeout"`
	IterationTimeout    time.Duration `json:"iteration_timeout"    mapstructure:"iteration_timeout"`
	Model               string        `json:"model"                mapstructure:"model"`
	MaxTurns            int           `json:"max_turns"            mapstructure:"max_turns"`
}

// DefaultConfig returns the standard run parameters.
func DefaultConfig() Config {
	return Config{
		MaxIterations:       3,
		QualityThreshold:    70.0,
		MinImprovement:      5.0,
		OscillationWindow:   3,
		StagnationThreshold: 2.0,
		Timeout:             30 * time.Minute,
		IterationTimeout:    5 * time.Minute,
		Model:               "sonnet",
		MaxTurns:            50,
	}
}

// EffectiveMaxIterations clamps the configured limit against the hard cap.
func (c Config) EffectiveMaxIterations() int {
	if c.MaxIterations <= 0 {
		return 1
	}
	return min(c.MaxIterations, HardMaxIterations)
}

// TerminationReason tags why the loop stopped.
type TerminationReason string

const (
	ReasonQualityMet    TerminationReason = "quality_met"
	ReasonMaxIterations TerminationReason = "max_iterations"
	ReasonOscillation   TerminationReason = "oscillation"
	ReasonStagnation    TerminationReason = "stagnation"
	ReasonTimeout       TerminationReason = "timeout"
	ReasonError         TerminationReason = "error"
)

// IterationResult records one completed iteration. It is never mutated after
// creation.
type IterationResult struct {
	Iteration    int                `json:"iteration"`
	Score        float64            `json:"score"`
	Assessment   quality.Assessment `json:"assessment"`
	Evidence     evidence.Snapshot  `json:"evidence"`
	Duration     time.Duration      `json:"duration"`
	MessageCount int                `json:"message_count"`
}

// LoopResult is the terminal outcome, created exactly once at loop exit.
type LoopResult struct {
	Status          string            `json:"status"`
	Reason          TerminationReason `json:"reason"`
	FinalScore      float64           `json:"final_score"`
	TotalIterations int               `json:"total_iterations"`
	Iterations      []IterationResult `json:"iterations"`
	TotalDuration   time.Duration     `json:"total_duration"`
	Error           string            `json:"error,omitempty"`
}

// StatusSuccess marks the quality-met exit; every other path is terminated.
const (
	StatusSuccess    = "success"
	StatusTerminated = "terminated"
)

// Assessor scores evidence; quality.Assessor is the production implementation.
type Assessor interface {
	Assess(ev evidence.Snapshot) quality.Assessment
}

// IterationCallback observes each IterationResult right after it is recorded,
// before the next termination check. It must not mutate the result.
type IterationCallback func(IterationResult)

// Runner drives the iteration loop over a session.
type Runner struct {
	cfg        Config
	sess       session.Session
	assessor   Assessor
	collector  *evidence.Collector
	dispatcher *hooks.Dispatcher
	logger     zerolog.Logger
	onIter     IterationCallback
}

// Option customizes a Runner.
type Option func(*Runner)

// WithAssessor replaces the default quality assessor.
func WithAssessor(a Assessor) Option {
	return func(r *Runner) { r.assessor = a }
}

// WithValidator replaces the default safety validator backing the hooks.
func WithValidator(v *safety.Validator) Option {
	return func(r *Runner) {
		r.dispatcher = hooks.NewDispatcher(hooks.SDKHooks(v, r.collector), r.logger)
	}
}

// WithIterationCallback registers the per-iteration observer.
func WithIterationCallback(fn IterationCallback) Option {
	return func(r *Runner) { r.onIter = fn }
}

// WithQualityConfig replaces the default assessment configuration.
func WithQualityConfig(qc quality.Config) Option {
	return func(r *Runner) { r.assessor = quality.NewAssessor(qc, r.logger) }
}

// NewRunner wires the default pipeline: one collector shared by the evidence
// hooks for the whole run, safety gating ahead of it, and the standard
// assessor.
func NewRunner(cfg Config, sess session.Session, logger zerolog.Logger, opts ...Option) *Runner {
	logger = logger.With().Str("component", "loop").Logger()
	collector := evidence.NewCollector()
	r := &Runner{
		cfg:        cfg,
		sess:       sess,
		assessor:   quality.NewAssessor(quality.Config{Threshold: cfg.QualityThreshold}, logger),
		collector:  collector,
		dispatcher: hooks.NewDispatcher(hooks.SDKHooks(safety.NewValidator(), collector), logger),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the loop for the given task. The returned LoopResult is always
// well formed; the error is non-nil only for the fatal session-failure path.
func (r *Runner) Run(ctx context.Context, task string) (LoopResult, error) {
	start := time.Now()
	maxIter := r.cfg.EffectiveMaxIterations()

	var history []IterationResult
	var scores []float64

	finish := func(status string, reason TerminationReason, errMsg string) LoopResult {
		res := LoopResult{
			Status:          status,
			Reason:          reason,
			TotalIterations: len(history),
			Iterations:      history,
			TotalDuration:   time.Since(start),
			Error:           errMsg,
		}
		if len(history) > 0 {
			res.FinalScore = history[len(history)-1].Score
		}
		r.logger.Info().
			Str("status", res.Status).
			Str("reason", string(res.Reason)).
			Float64("final_score", res.FinalScore).
			Int("iterations", res.TotalIterations).
			Dur("duration", res.TotalDuration).
			Msg("run finished")
		return res
	}

	for n := 0; n < maxIter; n++ {
		// Wall-clock budget is best-effort: it only gates starting a new
		// iteration, never preempts a running one.
		if n > 0 && r.cfg.Timeout > 0 && time.Since(start) >= r.cfg.Timeout {
			return finish(StatusTerminated, ReasonTimeout, ""), nil
		}

		iterStart := time.Now()
		r.collector.Reset()

		prompt := r.buildPrompt(task, history)
		r.logger.Info().Int("iteration", n+1).Msg("iteration starting")

		tr, err := r.sess.Run(ctx, session.Request{
			Prompt:   prompt,
			Model:    r.cfg.Model,
			MaxTurns: r.cfg.MaxTurns,
			Timeout:  r.cfg.IterationTimeout,
			Hooks:    r.dispatcher,
		})
		if err != nil && !errors.Is(err, session.ErrDenied) {
			// Invocation failure: no evidence can be trusted without a
			// completed session. Policy denials are not fatal; the partial
			// evidence still gets assessed.
			return finish(StatusTerminated, ReasonError, err.Error()), fmt.Errorf("iteration %d: %w", n+1, err)
		}

		snap := r.collector.Snapshot()
		assessment := r.assessor.Assess(snap)

		result := IterationResult{
			Iteration:  n + 1,
			Score:      assessment.Score,
			Assessment: assessment,
			Evidence:   snap,
			Duration:   time.Since(iterStart),
		}
		if tr != nil {
			result.MessageCount = tr.MessageCount
		}
		history = append(history, result)
		scores = append(scores, assessment.Score)
		if r.onIter != nil {
			r.onIter(result)
		}

		r.logger.Info().
			Int("iteration", n+1).
			Float64("score", assessment.Score).
			Bool("passed", assessment.Passed).
			Msg("iteration assessed")

		switch {
		case assessment.Passed:
			return finish(StatusSuccess, ReasonQualityMet, ""), nil
		case n+1 >= maxIter:
			return finish(StatusTerminated, ReasonMaxIterations, ""), nil
		case detectOscillation(scores, r.cfg.OscillationWindow):
			return finish(StatusTerminated, ReasonOscillation, ""), nil
		case detectStagnation(scores, r.cfg.MinImprovement, r.cfg.StagnationThreshold):
			return finish(StatusTerminated, ReasonStagnation, ""), nil
		}
	}

	return finish(StatusTerminated, ReasonMaxIterations, ""), nil
}

// buildPrompt concatenates the task with feedback from the previous iteration
// so the agent knows what to improve.
func (r *Runner) buildPrompt(task string, history []IterationResult) string {
	if len(history) == 0 {
		return task
	}
	prev := history[len(history)-1]

	var b strings.Builder
	b.WriteString(task)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "This is iteration %d. The previous attempt scored %.1f/100 (needs %.1f to pass).\n",
		len(history)+1, prev.Score, r.cfg.QualityThreshold)

	if len(prev.Assessment.ImprovementsNeeded) > 0 {
		b.WriteString("Focus on these improvements:\n")
		for i, imp := range prev.Assessment.ImprovementsNeeded {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, "- %s\n", imp)
		}
	}

	passed := prev.Evidence.TotalTestsPassed()
	failed := prev.Evidence.TotalTestsFailed()
	if passed+failed > 0 {
		fmt.Fprintf(&b, "Test results from the previous attempt: %d passed, %d failed.\n", passed, failed)
	}
	return b.String()
}

// detectOscillation reports whether the last window of scores bounces between
// improvement and regression with swings above the magnitude threshold.
func detectOscillation(scores []float64, window int) bool {
	if window < 3 || len(scores) < window {
		return false
	}
	recent := scores[len(scores)-window:]
	for i := 0; i+2 < len(recent); i++ {
		d1 := recent[i+1] - recent[i]
		d2 := recent[i+2] - recent[i+1]
		if d1*d2 < 0 && abs(d1) > oscillationMagnitude && abs(d2) > oscillationMagnitude {
			return true
		}
	}
	return false
}

// detectStagnation reports whether progress has effectively stopped: the last
// improvement is below the minimum, or the last two scores sit within the
// stagnation threshold of each other.
func detectStagnation(scores []float64, minImprovement, threshold float64) bool {
	if len(scores) < 2 {
		return false
	}
	last := scores[len(scores)-1]
	prev := scores[len(scores)-2]
	if last-prev < minImprovement {
		return true
	}
	return abs(last-prev) < threshold
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
