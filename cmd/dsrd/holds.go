package main

import (
	"context"

	"github.com/spf13/cobra"

	"privacy/api/internal/dsr"
)

func (c *cli) holdCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hold",
		Short: "Manage legal holds",
	}
	cmd.AddCommand(c.holdPlaceCmd(), c.holdClearCmd(), c.holdListCmd())
	return cmd
}

func (c *cli) holdPlaceCmd() *cobra.Command {
	var (
		input   dsr.PlaceHoldInput
		scope   string
		expires string
	)
	cmd := &cobra.Command{
		Use:   "place",
		Short: "Place a legal hold on a user, post or case",
		RunE: func(cmd *cobra.Command, _ []string) error {
			input.Scope = dsr.HoldScope(scope)
			expiresAt, err := parseTime("expires", expires)
			if err != nil {
				return err
			}
			input.ExpiresAt = expiresAt
			return c.withDeps(cmd, func(ctx context.Context, d *deps) error {
				hold, err := c.service(d).PlaceHold(ctx, input)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), hold)
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "user, post or case")
	cmd.Flags().StringVar(&input.ScopeID, "id", "", "id of the held subject")
	cmd.Flags().StringVar(&input.Reason, "reason", "", "why the hold exists")
	cmd.Flags().StringVar(&input.RequestedBy, "by", "", "operator placing the hold")
	cmd.Flags().StringVar(&expires, "expires", "", "informational expiry (RFC 3339)")
	return cmd
}

func (c *cli) holdClearCmd() *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "clear <hold-id>",
		Short: "Deactivate a legal hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withDeps(cmd, func(ctx context.Context, d *deps) error {
				hold, err := c.service(d).ClearHold(ctx, args[0], by)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), hold)
			})
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "operator clearing the hold")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func (c *cli) holdListCmd() *cobra.Command {
	var scopeID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List holds, optionally for one subject",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withDeps(cmd, func(ctx context.Context, d *deps) error {
				holds, err := c.service(d).ListHolds(ctx, scopeID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), holds)
			})
		},
	}
	cmd.Flags().StringVar(&scopeID, "id", "", "only holds on this subject")
	return cmd
}
