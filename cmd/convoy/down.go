package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func newDownCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Stop the stack in reverse dependency order",
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

			report := c.Down(ctx)
			a.saveState(ctx)
			renderReport(cmd.OutOrStdout(), report)
			if !report.OK() {
				return errors.New("one or more services failed to stop")
			}
			return nil
		},
	}
}
