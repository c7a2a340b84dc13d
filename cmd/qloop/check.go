package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qloopdev/qloop/internal/safety"
)

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe a command or path against the safety rules",
	}
	cmd.AddCommand(checkCommandCmd())
	cmd.AddCommand(checkPathCmd())
	return cmd
}

func checkCommandCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "command <command>",
		Short:        "Check whether a shell command would be allowed",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := checkValidator()
			if err != nil {
				return err
			}
			return printVerdict(v.ValidateCommand(args[0]))
		},
	}
}

func checkPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "path <path>",
		Short:        "Check whether a filesystem path would be allowed",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := checkValidator()
			if err != nil {
				return err
			}
			return printVerdict(v.ValidatePath(args[0]))
		},
	}
}

func checkValidator() (*safety.Validator, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return buildValidator(cfg)
}

// printVerdict reports the decision on stdout. A deny also fails the command
// so shell scripts can branch on the exit code.
func printVerdict(err error) error {
	if err == nil {
		fmt.Println("allowed")
		return nil
	}
	var verr *safety.ValidationError
	if errors.As(err, &verr) {
		fmt.Printf("denied: %s\n", verr.Error())
		return fmt.Errorf("denied")
	}
	return err
}
