package main

import (
	"context"

	"github.com/spf13/cobra"
)

func (c *cli) cascadeCmd() *cobra.Command {
	var userID, by string
	cmd := &cobra.Command{
		Use:   "cascade",
		Short: "Immediately delete or anonymize everything linked to a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withDeps(cmd, func(ctx context.Context, d *deps) error {
				report, err := c.cascade(d).Run(ctx, userID, "admin:"+by)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				return report.Err()
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to delete")
	cmd.Flags().StringVar(&by, "by", "", "operator running the deletion")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func (c *cli) verifyCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Report any data still linked to a deleted user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withDeps(cmd, func(ctx context.Context, d *deps) error {
				result, err := c.cascade(d).Verify(ctx, userID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to check")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (c *cli) selfDeleteCmd() *cobra.Command {
	var userID string
	var confirm bool
	cmd := &cobra.Command{
		Use:   "self-delete",
		Short: "Delete an account on behalf of its owner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withDeps(cmd, func(ctx context.Context, d *deps) error {
				report, err := c.selfService(d).Delete(ctx, userID, confirm)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "account owner's user id")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm the deletion is intended")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
