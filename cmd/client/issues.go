package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/cryptsync/internal/client/sync"
	"github.com/spf13/cobra"
)

func init() {
	issuesCmd := &cobra.Command{
		Use:   "issues",
		Short: "Inspect and clear sync issues. Any issue blocks syncing until cleared.",
	}
	issuesCmd.AddCommand(newIssuesListCmd())
	issuesCmd.AddCommand(newIssuesClearCmd())
	rootCmd.AddCommand(issuesCmd)
}

func newIssuesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sync issues",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			cmd.SilenceUsage = true

			issues, err := c.Manager().Issues()
			if err != nil {
				return err
			}
			writeIssues(cmd.OutOrStdout(), issues)
			return nil
		},
	}
}

func newIssuesClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear sync issues so syncing resumes. Failed tasks are retried.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			cmd.SilenceUsage = true

			if err := c.Manager().ClearIssues(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), green.Render("Issues cleared"))
			return nil
		},
	}
}

func writeIssues(w io.Writer, issues []*sync.SyncIssue) {
	if len(issues) == 0 {
		fmt.Fprintln(w, green.Render("No sync issues"))
		return
	}

	for _, issue := range issues {
		when := humanize.Time(time.UnixMilli(issue.Timestamp))
		fmt.Fprintf(w, "%s %s %s", red.Render(string(issue.Type)), gray.Render(when), issue.Location)
		if issue.Path != "" {
			fmt.Fprintf(w, " %s", cyan.Render(issue.Path))
		}
		fmt.Fprintf(w, "\n  %s\n", issue.Message)
	}
	fmt.Fprintf(w, "\n%d issue(s), run `cryptsync issues clear` to retry\n", len(issues))
}
