package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/openmined/cryptsync/internal/syncsdk"
	"github.com/openmined/cryptsync/internal/utils"
	"github.com/spf13/cobra"
)

var (
	errInvalidAPIKey = errors.New("invalid api key")
	errMissingLogin  = errors.New("api key and master key are required, pass --api-key and --master-key")
)

// stdinIsTerminal decides between the interactive prompt and a hard error
var stdinIsTerminal = func() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

func init() {
	rootCmd.AddCommand(newLoginCmd())
}

func newLoginCmd() *cobra.Command {
	var apiKey string
	var masterKeys []string
	var quiet bool
	var force bool

	cmd := &cobra.Command{
		Use:     "login",
		Aliases: []string{"init"},
		Short:   "Store the API key and master key used to sync",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if cfg.LoggedIn() && apiKey == "" && len(masterKeys) == 0 && !force {
				if !quiet {
					fmt.Fprintln(out, green.Render("Already logged in"))
					logConfig(out, cfg)
				}
				return nil
			}

			if err := utils.ValidateURL(cfg.ServerURL); err != nil {
				return err
			}

			verify := func(key string) error {
				return verifyAPIKey(cmd.Context(), cfg.ServerURL, key)
			}

			if apiKey == "" || len(masterKeys) == 0 {
				if !stdinIsTerminal() {
					return errMissingLogin
				}

				resolvedDataDir, err := utils.ResolvePath(cfg.DataDir)
				if err != nil {
					return err
				}

				res, err := RunLoginTUI(LoginTUIOpts{
					ServerURL:           cfg.ServerURL,
					DataDir:             resolvedDataDir,
					ConfigPath:          cfg.Path,
					APIKey:              apiKey,
					APIKeySubmitHandler: verify,
				})
				if err != nil {
					return err
				}
				apiKey = res.APIKey
				if len(masterKeys) == 0 {
					masterKeys = []string{res.MasterKey}
				}
			} else if err := verify(apiKey); err != nil {
				return err
			}

			cfg.APIKey = apiKey
			// keys of older logins stay usable for files they encrypted
			for _, key := range masterKeys {
				if !slices.Contains(cfg.Keys, key) {
					cfg.Keys = append(cfg.Keys, key)
				}
			}

			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return err
			}

			cmd.SilenceUsage = true
			if !quiet {
				fmt.Fprintln(out, green.Render("CryptSync is ready"))
				logConfig(out, cfg)
			}
			return nil
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key issued by the server")
	cmd.Flags().StringArrayVar(&masterKeys, "master-key", nil, "master key used to encrypt file keys, may repeat")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "disable output")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "login again even if credentials are stored")

	return cmd
}

// verifyAPIKey makes one authenticated call. The root folder id is never a
// real folder so a not found answer still proves the key works.
func verifyAPIKey(ctx context.Context, serverURL, apiKey string) error {
	sdk, err := syncsdk.New(&syncsdk.Config{
		BaseURL:    serverURL,
		APIKey:     apiKey,
		RetryCount: 1,
		Timeout:    30 * time.Second,
	})
	if err != nil {
		return err
	}
	defer sdk.Close()

	_, err = sdk.DirPresent(ctx, syncsdk.BaseParent)
	switch {
	case err == nil, errors.Is(err, syncsdk.ErrNotFound):
		return nil
	case errors.Is(err, syncsdk.ErrUnauthenticated):
		return errInvalidAPIKey
	default:
		return fmt.Errorf("verify api key: %w", err)
	}
}
