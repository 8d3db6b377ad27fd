package main

import (
	"context"

	"github.com/spf13/cobra"
)

func (c *cli) queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the request queue",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show pending and dead-lettered messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withDeps(cmd, func(ctx context.Context, d *deps) error {
				pending, err := d.queue.PendingLen(ctx)
				if err != nil {
					return err
				}
				dead, err := d.queue.DeadLetters(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"queue":       c.cfg.QueueName,
					"pending":     pending,
					"deadLetters": dead,
				})
			})
		},
	})
	return cmd
}
