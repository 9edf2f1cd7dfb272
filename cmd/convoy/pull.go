package main

import (
	"github.com/spf13/cobra"
)

func newPullCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pull [SERVICE...]",
		Short: "Pull the stack's images, or just the named services'",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			ctx := cmd.Context()

			c, _, err := a.controller(ctx)
			if err != nil {
				return err
			}
			return c.Pull(ctx, args...)
		},
	}
}
