package main

import (
	"github.com/spf13/cobra"

	"github.com/tsegert/convoy/internal/stack"
)

func newLogsCommand(a *app) *cobra.Command {
	var follow bool
	var tail string
	var timestamps bool

	cmd := &cobra.Command{
		Use:   "logs [SERVICE...]",
		Short: "Stream container logs, one prefix per service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			ctx := cmd.Context()

			c, _, err := a.controller(ctx)
			if err != nil {
				return err
			}

			return c.Logs(ctx, cmd.OutOrStdout(), stack.LogsOptions{
				Services:   args,
				Follow:     follow,
				Tail:       tail,
				Timestamps: timestamps,
			})
		},
	}

	cmd.Flags().BoolVar(&follow, "follow", false, "Keep streaming until interrupted")
	cmd.Flags().StringVar(&tail, "tail", "", "Number of trailing lines per service (default all)")
	cmd.Flags().BoolVarP(&timestamps, "timestamps", "t", false, "Prefix lines with timestamps")
	return cmd
}
