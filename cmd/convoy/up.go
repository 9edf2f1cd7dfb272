package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func newUpCommand(a *app) *cobra.Command {
	var pullFirst bool

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start the stack in dependency order",
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

			if pullFirst {
				if err := c.Pull(ctx); err != nil {
					return err
				}
			}

			report := c.Up(ctx)
			a.saveState(ctx)
			renderReport(cmd.OutOrStdout(), report)
			if !report.OK() {
				return errors.New("one or more services failed to start")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&pullFirst, "pull", false, "Pull every image before starting")
	return cmd
}
