package main

import (
	"encoding/json"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"privacy/api/internal/config"
	"privacy/api/internal/logging"
)

// cli carries state shared by every subcommand once the root has run.
type cli struct {
	cfg    config.Config
	logger zerolog.Logger
	// open builds the backing services. Tests replace it.
	open func(cmd *cobra.Command) (*deps, error)
}

func newRootCmd() *cobra.Command {
	return (&cli{}).rootCmd()
}

func (c *cli) rootCmd() *cobra.Command {
	if c.open == nil {
		c.open = c.openDeps
	}

	root := &cobra.Command{
		Use:   "dsrd",
		Short: "Data subject request worker and admin tool",
		Long: `dsrd runs the data subject request pipeline: the queue worker that
produces exports and deletion marks, the scheduled purge sweep, and the
admin operations used to enqueue, review and release requests.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			c.cfg = config.Load()
			c.logger = logging.New(c.cfg.LogLevel, c.cfg.LogFormat, cmd.ErrOrStderr())
		},
	}

	root.AddCommand(
		c.migrateCmd(),
		c.workerCmd(),
		c.purgeCmd(),
		c.cascadeCmd(),
		c.verifyCmd(),
		c.selfDeleteCmd(),
		c.enqueueCmd(),
		c.getCmd(),
		c.listCmd(),
		c.retryCmd(),
		c.cancelCmd(),
		c.reviewCmd(),
		c.releaseCmd(),
		c.downloadCmd(),
		c.holdCmd(),
		c.queueCmd(),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
