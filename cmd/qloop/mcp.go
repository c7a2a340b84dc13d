package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/qloopdev/qloop/internal/loop"
	"github.com/qloopdev/qloop/internal/mcpserver"
	"github.com/qloopdev/qloop/internal/runstore"
)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "mcp",
		Short:        "Serve qloop tools over the MCP stdio transport",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			v, err := buildValidator(cfg)
			if err != nil {
				return err
			}

			// The store is best-effort here: a broken database should not
			// take down the validation tools.
			var store *runstore.Store
			st, closeFn, err := openStore(cfg)
			if err != nil {
				log.Warn().Err(err).Msg("run store unavailable, runs_list disabled")
			} else {
				store = st
				defer closeFn()
			}

			runFn := func(ctx context.Context, task string, maxIterations int) (loop.LoopResult, error) {
				loopCfg := cfg.Loop.ToLoop()
				if maxIterations > 0 {
					loopCfg.MaxIterations = maxIterations
				}
				runner, err := buildRunner(cfg, loopCfg, v, nil)
				if err != nil {
					return loop.LoopResult{}, err
				}
				res, runErr := runner.Run(ctx, task)
				if store != nil && res.TotalIterations > 0 {
					if _, err := store.SaveRun(ctx, task, res); err != nil {
						log.Warn().Err(err).Msg("run not saved")
					}
				}
				return res, runErr
			}

			srv, err := mcpserver.NewServer(v, runFn, store, log.Logger)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
}
