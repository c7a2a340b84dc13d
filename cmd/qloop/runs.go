package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Manage stored runs",
	}
	cmd.AddCommand(runsListCmd())
	cmd.AddCommand(runsPruneCmd())
	return cmd
}

func runsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:          "list",
		Short:        "List stored runs, newest first",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, closeFn, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tCREATED\tSCORE\tITER\tSTATUS\tREASON\tTASK")
			for _, r := range runs {
				task := r.Task
				if len(task) > 48 {
					task = task[:45] + "..."
				}
				fmt.Fprintf(w, "%s\t%s\t%.1f\t%d\t%s\t%s\t%s\n",
					r.RunID, r.CreatedAt.Local().Format("2006-01-02 15:04"),
					r.FinalScore, r.TotalIterations, r.Status, r.Reason, task)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "show at most N runs (default 50)")
	return cmd
}

func runsPruneCmd() *cobra.Command {
	var keepLast int
	var keepDays int
	cmd := &cobra.Command{
		Use:          "prune",
		Short:        "Delete old runs from the database",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if keepLast <= 0 && keepDays <= 0 {
				keepLast = cfg.Retention.KeepLast
				keepDays = cfg.Retention.KeepDays
			}
			if keepLast <= 0 && keepDays <= 0 {
				return fmt.Errorf("set --keep-last or --keep-days (or configure retention in .qloop/config.json)")
			}

			store, closeFn, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			var deleted int64
			if keepLast > 0 {
				n, err := store.Prune(cmd.Context(), keepLast)
				if err != nil {
					return err
				}
				deleted += n
			}
			if keepDays > 0 {
				cutoff := time.Now().AddDate(0, 0, -keepDays)
				n, err := store.PruneBefore(cmd.Context(), cutoff)
				if err != nil {
					return err
				}
				deleted += n
			}
			log.Info().Int64("deleted", deleted).Msg("prune complete")
			return nil
		},
	}
	cmd.Flags().IntVar(&keepLast, "keep-last", 0, "keep the newest N runs")
	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "keep runs newer than N days")
	return cmd
}
