package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func newRestartCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Stop the stack and bring it back up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			ctx := cmd.Context()

			c, _, err := a.controller(ctx)
			if err != nil {
				return err
			}

			report := c.Restart(ctx)
			a.saveState(ctx)
			renderReport(cmd.OutOrStdout(), report)
			if !report.OK() {
				return errors.New("one or more services failed to restart")
			}
			return nil
		},
	}
}
