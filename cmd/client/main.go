package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/openmined/cryptsync/internal/client"
	"github.com/openmined/cryptsync/internal/client/config"
	"github.com/openmined/cryptsync/internal/utils"
	"github.com/openmined/cryptsync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var home, _ = os.UserHomeDir()

const envPrefix = "CRYPTSYNC"

var rootCmd = &cobra.Command{
	Use:           "cryptsync",
	Short:         "Keep local folders in sync with encrypted cloud folders",
	Version:       version.Detailed(),
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupConsoleLogger(logLevel(cmd))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		// all good now, show header
		cmd.SilenceUsage = true
		showHeader()

		logFile := setupFileLogger(c.Workspace().LogFile(), logLevel(cmd))
		defer logFile.Close()

		slog.Info("cryptsync", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)

		defer slog.Info("Bye!")
		return c.Start(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	addPersistentFlags(rootCmd)
}

func addPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "CryptSync config file")
	cmd.PersistentFlags().StringP("datadir", "d", config.DefaultDataDir, "CryptSync data directory")
	cmd.PersistentFlags().StringP("server", "s", config.DefaultServerURL, "CryptSync server")
	cmd.PersistentFlags().Bool("debug", false, "Enable debug logs")
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "%s: .env: %s\n", red.Render("WARN"), err)
	}

	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", red.Render("ERROR"), err)
		stop()
		os.Exit(1)
	}
}

func logLevel(cmd *cobra.Command) slog.Level {
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// loadConfig merges the config file, CRYPTSYNC_* env vars and flags, in
// increasing order of precedence. The result is not validated.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()

	configPath := resolveConfigPath(cmd)
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", configPath, err)
		}
	}

	v.SetDefault("data_dir", config.DefaultDataDir)
	v.SetDefault("server_url", config.DefaultServerURL)

	if flag := cmd.Flag("datadir"); flag != nil {
		_ = v.BindPFlag("data_dir", flag)
	}
	if flag := cmd.Flag("server"); flag != nil {
		_ = v.BindPFlag("server_url", flag)
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	return &config.Config{
		Path:            configPath,
		DataDir:         v.GetString("data_dir"),
		ServerURL:       v.GetString("server_url"),
		APIKey:          v.GetString("api_key"),
		Keys:            v.GetStringSlice("master_keys"),
		IntervalSeconds: v.GetInt("sync_interval"),
		BandwidthLimit:  v.GetInt("bandwidth_limit"),
	}, nil
}

func loadValidConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := loadValidConfig(cmd)
	if err != nil {
		return nil, err
	}
	return client.New(cfg)
}

func showHeader() {
	fmt.Println(cyan.Bold(true).Render(cryptSyncArt))
	fmt.Println(gray.Render(version.ShortWithApp()))
}

func logConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "%s%s\n", gray.Render("Config   "), green.Render(cfg.Path))
	fmt.Fprintf(w, "%s%s\n", gray.Render("Data     "), cyan.Render(cfg.DataDir))
	fmt.Fprintf(w, "%s%s\n", gray.Render("Server   "), cyan.Render(cfg.ServerURL))
	fmt.Fprintf(w, "%s%s\n", gray.Render("API key  "), cyan.Render(utils.MaskSecret(cfg.APIKey)))
	fmt.Fprintf(w, "%s%d\n", gray.Render("Keys     "), len(cfg.Keys))
}
