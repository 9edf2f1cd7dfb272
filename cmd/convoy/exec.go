package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExecCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exec SERVICE COMMAND [ARG...]",
		Short: "Run a command inside a running service's container",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			ctx := cmd.Context()

			c, _, err := a.controller(ctx)
			if err != nil {
				return err
			}

			result, err := c.Exec(ctx, args[0], args[1:])
			if err != nil {
				return err
			}

			if _, err := cmd.OutOrStdout().Write(result.Output); err != nil {
				return err
			}
			if result.ExitCode != 0 {
				return fmt.Errorf("command exited with code %d", result.ExitCode)
			}
			return nil
		},
	}
}
