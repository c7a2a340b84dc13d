package main

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/qloopdev/qloop/internal/config"
	"github.com/qloopdev/qloop/internal/loop"
	"github.com/qloopdev/qloop/internal/safety"
	"github.com/qloopdev/qloop/internal/tui"
)

func runCmd() *cobra.Command {
	var maxIterations int
	var threshold float64
	var model string
	var watch bool
	var noSave bool
	cmd := &cobra.Command{
		Use:          "run <task>",
		Short:        "Run an agent loop for a task until quality passes or the loop terminates",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			task := args[0]

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			loopCfg := cfg.Loop.ToLoop()
			if maxIterations > 0 {
				loopCfg.MaxIterations = maxIterations
			}
			if threshold > 0 {
				loopCfg.QualityThreshold = threshold
			}
			if model != "" {
				loopCfg.Model = model
				cfg.Agent.Model = model
			}

			v, err := buildValidator(cfg)
			if err != nil {
				return err
			}

			var res loop.LoopResult
			var runErr error
			if watch {
				res, runErr = runWatched(cmd, task, loopCfg, v, cfg)
			} else {
				res, runErr = runLogged(cmd, task, loopCfg, v, cfg)
			}

			if !noSave && res.TotalIterations > 0 {
				store, closeFn, err := openStore(cfg)
				if err != nil {
					log.Warn().Err(err).Msg("run not saved")
				} else {
					defer closeFn()
					runID, err := store.SaveRun(cmd.Context(), task, res)
					if err != nil {
						log.Warn().Err(err).Msg("run not saved")
					} else {
						fmt.Printf("saved as %s\n", runID)
					}
				}
			}
			if runErr != nil {
				return runErr
			}

			fmt.Printf("%s: %s after %d iteration(s), final score %.1f\n",
				res.Status, res.Reason, res.TotalIterations, res.FinalScore)
			if res.Status != loop.StatusSuccess {
				return fmt.Errorf("run terminated: %s", res.Reason)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "override the configured iteration limit")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "override the quality pass threshold")
	cmd.Flags().StringVar(&model, "model", "", "override the agent model")
	cmd.Flags().BoolVar(&watch, "watch", false, "show live progress in the terminal")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not record the run in the database")
	return cmd
}

// runLogged runs the loop with per-iteration progress on the log stream.
func runLogged(cmd *cobra.Command, task string, loopCfg loop.Config, v *safety.Validator, cfg config.Config) (loop.LoopResult, error) {
	runner, err := buildRunner(cfg, loopCfg, v, func(it loop.IterationResult) {
		log.Info().
			Int("iteration", it.Iteration).
			Float64("score", it.Score).
			Bool("passed", it.Assessment.Passed).
			Strs("improvements", it.Assessment.ImprovementsNeeded).
			Msg("iteration complete")
	})
	if err != nil {
		return loop.LoopResult{}, err
	}
	return runner.Run(cmd.Context(), task)
}

// watchOutcome carries the loop result out of the runner goroutine.
type watchOutcome struct {
	res loop.LoopResult
	err error
}

// runWatched runs the loop behind a live TUI. The loop runs in a goroutine
// under a cancelable context; quitting the program early cancels the run,
// which kills the spawned agent child, and the result always travels through
// the channel so the UI exiting first cannot race the runner's writes.
func runWatched(cmd *cobra.Command, task string, loopCfg loop.Config, v *safety.Validator, cfg config.Config, opts ...tea.ProgramOption) (loop.LoopResult, error) {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	p := tea.NewProgram(tui.NewModel(task, loopCfg.EffectiveMaxIterations()), opts...)

	runner, err := buildRunner(cfg, loopCfg, v, func(it loop.IterationResult) {
		p.Send(tui.IterationMsg{Result: it})
	})
	if err != nil {
		return loop.LoopResult{}, err
	}

	done := make(chan watchOutcome, 1)
	go func() {
		res, runErr := runner.Run(ctx, task)
		done <- watchOutcome{res: res, err: runErr}
		p.Send(tui.DoneMsg{Result: res, Err: runErr})
	}()

	_, uiErr := p.Run()
	cancel()
	out := <-done

	if uiErr != nil {
		return out.res, fmt.Errorf("watch ui: %w", uiErr)
	}
	if out.err != nil && errors.Is(out.err, context.Canceled) {
		return out.res, fmt.Errorf("run canceled")
	}
	return out.res, out.err
}
