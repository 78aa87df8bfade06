package main

import (
	"errors"
	"log/slog"

	"github.com/openmined/cryptsync/internal/client/sync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newOnceCmd())
}

func newOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single sync cycle and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			cmd.SilenceUsage = true

			logFile := setupFileLogger(c.Workspace().LogFile(), logLevel(cmd))
			defer logFile.Close()

			err = c.RunOnce(cmd.Context())
			switch {
			case err == nil:
			case errors.Is(err, sync.ErrIssuesPresent):
				return errors.New("sync issues present, see `cryptsync issues list`")
			default:
				return err
			}

			// location failures do not fail the cycle, they are recorded as issues
			issues, err := c.Manager().Issues()
			if err != nil {
				return err
			}
			if len(issues) > 0 {
				slog.Warn("sync finished with issues", "count", len(issues))
				return errors.New("sync finished with issues, see `cryptsync issues list`")
			}
			slog.Info("sync finished")
			return nil
		},
	}
}
