package main

import (
	"fmt"

	"github.com/openmined/cryptsync/internal/utils"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newConfigPathCmd())
}

func newConfigPathCmd() *cobra.Command {
	var mustExist bool

	cmd := &cobra.Command{
		Use:   "config-path",
		Short: "Print the resolved config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(cmd)
			if mustExist && !utils.FileExists(path) {
				return fmt.Errorf("no config at %s", path)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}
	cmd.Flags().BoolVar(&mustExist, "exists", false, "fail when the config file does not exist")
	return cmd
}
