package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/goccy/go-json"
	"github.com/openmined/cryptsync/internal/utils"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".cryptsync", "config.json")
	DefaultDataDir    = filepath.Join(home, ".cryptsync")
	DefaultServerURL  = "https://gateway.cryptsync.io"
	DefaultInterval   = 5 * time.Second
)

var (
	ErrNoDataDir    = errors.New("data dir is required")
	ErrNoServerURL  = errors.New("server url is required")
	ErrBadInterval  = errors.New("sync interval must be at least one second")
	ErrBadBandwidth = errors.New("bandwidth limit cannot be negative")
)

type Config struct {
	DataDir   string `json:"data_dir"`
	ServerURL string `json:"server_url"`
	APIKey    string `json:"api_key,omitempty"`
	// Keys are the account master keys, oldest first
	Keys []string `json:"master_keys,omitempty"`
	// IntervalSeconds is the pause between sync cycles
	IntervalSeconds int `json:"sync_interval,omitempty"`
	// BandwidthLimit caps transfers in bytes per second, 0 disables it
	BandwidthLimit int    `json:"bandwidth_limit,omitempty"`
	Path           string `json:"-"`
}

// Validate normalizes paths and urls and fills in defaults
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return ErrNoDataDir
	}
	dataDir, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	c.DataDir = dataDir

	if c.Path != "" {
		path, err := utils.ResolvePath(c.Path)
		if err != nil {
			return fmt.Errorf("config path: %w", err)
		}
		c.Path = path
	}

	if c.ServerURL == "" {
		return ErrNoServerURL
	}
	if err := utils.ValidateURL(c.ServerURL); err != nil {
		return fmt.Errorf("server url: %w", err)
	}

	if c.IntervalSeconds == 0 {
		c.IntervalSeconds = int(DefaultInterval / time.Second)
	}
	if c.IntervalSeconds < 1 {
		return ErrBadInterval
	}
	if c.BandwidthLimit < 0 {
		return ErrBadBandwidth
	}

	return nil
}

func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// LoggedIn reports whether the client has credentials to talk to the backend
func (c *Config) LoggedIn() bool {
	return c.APIKey != "" && len(c.Keys) > 0
}

func (c *Config) MasterKeys() []string {
	return slices.Clone(c.Keys)
}

func (c *Config) Save() error {
	if c.Path == "" {
		return errors.New("config path is empty")
	}
	if err := utils.EnsureParent(c.Path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// holds the api key and the master keys
	return os.WriteFile(c.Path, data, 0o600)
}

func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Path = path

	return &cfg, nil
}
