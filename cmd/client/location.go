package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/openmined/cryptsync/internal/client/sync"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	locationCmd := &cobra.Command{
		Use:     "location",
		Aliases: []string{"loc"},
		Short:   "Manage synced locations",
	}
	locationCmd.AddCommand(newLocationAddCmd())
	locationCmd.AddCommand(newLocationListCmd())
	locationCmd.AddCommand(newLocationRemoveCmd())
	locationCmd.AddCommand(newLocationPauseCmd(true))
	locationCmd.AddCommand(newLocationPauseCmd(false))
	locationCmd.AddCommand(newLocationExcludeCmd())
	rootCmd.AddCommand(locationCmd)
}

func newLocationAddCmd() *cobra.Command {
	var remotePath string
	var mode string
	var excluded []string

	cmd := &cobra.Command{
		Use:     "add LOCAL_DIR REMOTE_FOLDER_UUID",
		Aliases: []string{"a"},
		Short:   "Pair a local directory with a remote folder",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			cmd.SilenceUsage = true

			loc, err := c.AddLocation(cmd.Context(), &sync.Location{
				Local:      args[0],
				Remote:     remotePath,
				RemoteUUID: args[1],
				RemoteName: remoteName(remotePath),
				Type:       sync.SyncMode(mode),
				Excluded:   excluded,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Added location '%s'\n", green.Bold(true).Render(loc.UUID))
			printLocation(cmd.OutOrStdout(), loc)
			return nil
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().StringVarP(&remotePath, "remote-path", "r", "", "display path of the remote folder")
	cmd.Flags().StringVarP(&mode, "mode", "m", string(sync.ModeTwoWay),
		"sync mode: twoWay, localToCloud, cloudToLocal, localBackup or cloudBackup")
	cmd.Flags().StringArrayVarP(&excluded, "exclude", "x", nil, "selective sync pattern, may repeat")
	return cmd
}

func newLocationListCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List synced locations",
		Args:    cobra.NoArgs,
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
			return writeLocations(cmd.OutOrStdout(), locs, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func newLocationRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove LOCATION_UUID",
		Aliases: []string{"rm"},
		Short:   "Stop syncing a location. Files stay where they are.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			cmd.SilenceUsage = true

			if err := c.RemoveLocation(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed location '%s'\n", green.Render(args[0]))
			return nil
		},
	}
}

func newLocationPauseCmd(pause bool) *cobra.Command {
	use, short, done := "pause", "Pause syncing a location", "Paused"
	if !pause {
		use, short, done = "resume", "Resume syncing a location", "Resumed"
	}

	return &cobra.Command{
		Use:   use + " LOCATION_UUID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			cmd.SilenceUsage = true

			if err := c.Manager().SetLocationPaused(args[0], pause); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s location '%s'\n", done, green.Render(args[0]))
			return nil
		},
	}
}

func newLocationExcludeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exclude LOCATION_UUID [PATTERN...]",
		Short: "Replace the selective sync patterns of a location, none clears them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			cmd.SilenceUsage = true

			if err := c.Manager().SetLocationExcluded(args[0], args[1:]); err != nil {
				return err
			}
			if len(args) == 1 {
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared exclusions of '%s'\n", green.Render(args[0]))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Excluding %s in '%s'\n", strings.Join(args[1:], ", "), green.Render(args[0]))
			}
			return nil
		},
	}
}

func writeLocations(w io.Writer, locs []*sync.Location, output string) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(locs)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(locs)
	case "text", "":
	default:
		return fmt.Errorf("unknown output format %q", output)
	}

	if len(locs) == 0 {
		fmt.Fprintln(w, "No locations configured")
		return nil
	}
	for idx, loc := range locs {
		if idx > 0 {
			fmt.Fprintln(w)
		}
		printLocation(w, loc)
	}
	return nil
}

func printLocation(w io.Writer, loc *sync.Location) {
	state := green.Render("active")
	switch {
	case loc.Paused:
		state = yellow.Render("paused")
	case loc.Busy:
		state = cyan.Render("syncing")
	}
	remote := loc.Remote
	if remote == "" {
		remote = loc.RemoteUUID
	}

	fmt.Fprintf(w, "%s%s\n", gray.Render("ID       "), cyan.Render(loc.UUID))
	fmt.Fprintf(w, "%s%s\n", gray.Render("Local    "), loc.Local)
	fmt.Fprintf(w, "%s%s\n", gray.Render("Remote   "), remote)
	fmt.Fprintf(w, "%s%s (%s)\n", gray.Render("Mode     "), loc.Type, state)
	if len(loc.Excluded) > 0 {
		fmt.Fprintf(w, "%s%s\n", gray.Render("Excluded "), strings.Join(loc.Excluded, ", "))
	}
}

func remoteName(remotePath string) string {
	trimmed := strings.TrimRight(remotePath, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
