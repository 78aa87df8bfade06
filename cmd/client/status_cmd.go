package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/cryptsync/internal/client"
	"github.com/openmined/cryptsync/internal/client/sync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the outcome of the last sync of every location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			cmd.SilenceUsage = true

			locs, err := c.Manager().Locations()
			if err != nil {
				return err
			}
			statuses, err := c.Statuses()
			if err != nil {
				return err
			}
			issues, err := c.Manager().Issues()
			if err != nil {
				return err
			}

			writeStatus(cmd.OutOrStdout(), locs, statuses, len(issues))
			return nil
		},
	}
}

func writeStatus(w io.Writer, locs []*sync.Location, statuses []*client.LocationStatus, issues int) {
	byLocation := make(map[string]*client.LocationStatus, len(statuses))
	for _, st := range statuses {
		byLocation[st.Location] = st
	}

	if len(locs) == 0 {
		fmt.Fprintln(w, "No locations configured")
	}
	for _, loc := range locs {
		st, ok := byLocation[loc.UUID]
		var state string
		switch {
		case loc.Paused:
			state = yellow.Render("paused")
		case !ok:
			state = gray.Render("never synced")
		case st.State == client.StateError:
			state = red.Render("error") + " in " + st.Stage + ": " + st.Error
		case st.State == client.StateSyncing:
			state = cyan.Render("syncing")
		default:
			state = green.Render("synced") + " " + humanize.Time(st.LastSynced)
		}
		fmt.Fprintf(w, "%s %s\n", loc.Local, state)
		if ok && st.Tasks+st.Failed > 0 {
			fmt.Fprintf(w, "  %s\n", gray.Render(fmt.Sprintf("%d tasks, %d failed, updated %s", st.Tasks, st.Failed, st.UpdatedAt.Format(time.RFC3339))))
		}
	}

	if issues > 0 {
		fmt.Fprintf(w, "\n%s %d issue(s) block syncing, see `cryptsync issues list`\n", red.Render("!"), issues)
	}
}
