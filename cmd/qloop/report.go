package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qloopdev/qloop/internal/report"
)

func reportCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:          "report <run-id>",
		Short:        "Render a stored run as a report",
		Args:         cobra.ExactArgs(1),
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

			rec, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			md := report.BuildMarkdown(rec)
			if raw {
				fmt.Print(md)
				return nil
			}
			out, err := report.Render(md)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print plain markdown without terminal styling")
	return cmd
}
