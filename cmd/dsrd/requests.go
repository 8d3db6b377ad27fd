package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"privacy/api/internal/dsr"
)

func (c *cli) enqueueCmd() *cobra.Command {
	var input dsr.EnqueueInput
	cmd := &cobra.Command{
		Use:       "enqueue <export|delete>",
		Short:     "Create a request and publish it to the queue",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(dsr.TypeExport), string(dsr.TypeDelete)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withDeps(cmd, func(ctx context.Context, d *deps) error {
				svc := c.service(d)
				var (
					req dsr.Request
					err error
				)
				if dsr.Type(args[0]) == dsr.TypeDelete {
					req, err = svc.EnqueueDelete(ctx, input)
				} else {
					req, err = svc.EnqueueExport(ctx, input)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), req)
			})
		},
	}
	cmd.Flags().StringVar(&input.UserID, "user", "", "subject user id")
	cmd.Flags().StringVar(&input.RequestedBy, "by", "", "operator submitting the request")
	cmd.Flags().StringVar(&input.Note, "note", "", "free-text note kept on the request")
	return cmd
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <request-id>",
		Short: "Show one request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withDeps(cmd, func(ctx context.Context, d *deps) error {
				req, err := c.service(d).Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), req)
			})
		},
	}
}

func (c *cli) listCmd() *cobra.Command {
	var (
		kind     string
		statuses []string
		from, to string
		filter   dsr.ListFilter
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter.Type = dsr.Type(kind)
			filter.Statuses = filter.Statuses[:0]
			for _, status := range statuses {
				filter.Statuses = append(filter.Statuses, dsr.Status(status))
			}
			var err error
			if filter.From, err = parseTime("from", from); err != nil {
				return err
			}
			if filter.To, err = parseTime("to", to); err != nil {
				return err
			}
			return c.withDeps(cmd, func(ctx context.Context, d *deps) error {
				page, err := c.service(d).List(ctx, filter)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), page)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "type", "", "export or delete")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "status filter, repeatable")
	cmd.Flags().StringVar(&filter.UserID, "user", "", "subject user id")
	cmd.Flags().StringVar(&from, "from", "", "requested at or after (RFC 3339)")
	cmd.Flags().StringVar(&to, "to", "", "requested at or before (RFC 3339)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "page size")
	cmd.Flags().StringVar(&filter.ContinuationToken, "token", "", "continuation token from a previous page")
	return cmd
}

func parseTime(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("--%s must be RFC 3339: %w", name, err)
	}
	return &parsed, nil
}

// operatorCmd builds a command that takes a request id and the acting
// operator, then prints whatever op returns.
func (c *cli) operatorCmd(use, short string, op func(context.Context, *dsr.Service, string, string) (any, error)) *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   use + " <request-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withDeps(cmd, func(ctx context.Context, d *deps) error {
				out, err := op(ctx, c.service(d), args[0], by)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "acting operator")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func (c *cli) retryCmd() *cobra.Command {
	return c.operatorCmd("retry", "Re-queue a failed or canceled request", func(ctx context.Context, svc *dsr.Service, id, by string) (any, error) {
		return svc.Retry(ctx, id, by)
	})
}

func (c *cli) cancelCmd() *cobra.Command {
	return c.operatorCmd("cancel", "Cancel a request that has not finished", func(ctx context.Context, svc *dsr.Service, id, by string) (any, error) {
		return svc.Cancel(ctx, id, by)
	})
}

func (c *cli) releaseCmd() *cobra.Command {
	return c.operatorCmd("release", "Release a reviewed export and mint a download link", func(ctx context.Context, svc *dsr.Service, id, by string) (any, error) {
		return svc.Release(ctx, id, by)
	})
}

func (c *cli) downloadCmd() *cobra.Command {
	return c.operatorCmd("download", "Mint a fresh download link for a released export", func(ctx context.Context, svc *dsr.Service, id, by string) (any, error) {
		return svc.Download(ctx, id, by)
	})
}

func (c *cli) reviewCmd() *cobra.Command {
	var input dsr.ReviewInput
	cmd := &cobra.Command{
		Use:       "review <a|b> <request-id>",
		Short:     "Record a reviewer's decision on an export",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"a", "b"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var review func(*dsr.Service, context.Context, string, dsr.ReviewInput) (dsr.Request, error)
			switch args[0] {
			case "a":
				review = (*dsr.Service).ReviewA
			case "b":
				review = (*dsr.Service).ReviewB
			default:
				return fmt.Errorf("reviewer must be a or b, got %q", args[0])
			}
			return c.withDeps(cmd, func(ctx context.Context, d *deps) error {
				req, err := review(c.service(d), ctx, args[1], input)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), req)
			})
		},
	}
	cmd.Flags().StringVar(&input.By, "by", "", "reviewer")
	cmd.Flags().BoolVar(&input.Pass, "pass", false, "approve the export")
	cmd.Flags().StringVar(&input.Notes, "notes", "", "review notes")
	return cmd
}
