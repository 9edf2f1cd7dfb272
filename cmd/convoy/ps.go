package main

import (
	"github.com/spf13/cobra"
)

func newPsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "List the stack's services and their states",
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

			statuses := c.Ps(ctx)
			a.saveState(ctx)
			renderStatuses(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
}
