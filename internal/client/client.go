package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openmined/cryptsync/internal/client/config"
	"github.com/openmined/cryptsync/internal/client/sync"
	"github.com/openmined/cryptsync/internal/client/workspace"
	"github.com/openmined/cryptsync/internal/crypt"
	"github.com/openmined/cryptsync/internal/kvstore"
	"github.com/openmined/cryptsync/internal/syncsdk"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotLoggedIn     = errors.New("not logged in, run `cryptsync login` first")
	ErrRemoteNotFolder = errors.New("remote folder is missing or in the trash")
	ErrInsideWorkspace = errors.New("location cannot live inside the data dir")
)

type Client struct {
	config    *config.Config
	workspace *workspace.Workspace
	sdk       *syncsdk.SyncSDK
	store     *kvstore.Store
	sync      *sync.SyncManager
	recorder  *statusRecorder
}

func New(cfg *config.Config) (*Client, error) {
	if !cfg.LoggedIn() {
		return nil, ErrNotLoggedIn
	}

	ws, err := workspace.NewWorkspace(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	sdk, err := syncsdk.New(&syncsdk.Config{
		BaseURL:        cfg.ServerURL,
		APIKey:         cfg.APIKey,
		BandwidthLimit: cfg.BandwidthLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sdk: %w", err)
	}

	store, err := kvstore.Open(ws.DBPath)
	if err != nil {
		sdk.Close()
		return nil, err
	}

	mgr, err := sync.NewManager(sdk, crypt.New(), cfg, store, &sync.EngineConfig{
		SyncInterval: cfg.SyncInterval(),
		TrashDir:     ws.TrashDir,
	})
	if err != nil {
		store.Close()
		sdk.Close()
		return nil, err
	}

	return &Client{
		config:    cfg,
		workspace: ws,
		sdk:       sdk,
		store:     store,
		sync:      mgr,
		recorder:  newStatusRecorder(store, mgr.Engine().Status()),
	}, nil
}

func (c *Client) Workspace() *workspace.Workspace {
	return c.workspace
}

func (c *Client) Manager() *sync.SyncManager {
	return c.sync
}

// Start runs the sync loop until ctx is cancelled
func (c *Client) Start(ctx context.Context) error {
	slog.Info("cryptsync client start", "datadir", c.config.DataDir, "server", c.config.ServerURL, "interval", c.config.SyncInterval())

	if err := c.workspace.Setup(); err != nil {
		return fmt.Errorf("failed to setup workspace: %w", err)
	}
	defer c.workspace.Unlock()

	eg, egCtx := errgroup.WithContext(ctx)

	record := c.recorder.subscribe()
	eg.Go(func() error {
		return record(egCtx)
	})

	if err := c.sync.Start(egCtx); err != nil {
		return fmt.Errorf("failed to start sync manager: %w", err)
	}

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("received interrupt signal, stopping client")
		return c.sync.Stop()
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("client failure", "error", err)
		return err
	}

	slog.Info("cryptsync client stop", "stats", c.sdk.Stats())
	return nil
}

// RunOnce runs a single sync cycle and returns its error
func (c *Client) RunOnce(ctx context.Context) error {
	if err := c.workspace.Setup(); err != nil {
		return fmt.Errorf("failed to setup workspace: %w", err)
	}
	defer c.workspace.Unlock()

	recordCtx, stopRecording := context.WithCancel(ctx)
	record := c.recorder.subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = record(recordCtx)
	}()

	err := c.sync.RunOnce(ctx)

	stopRecording()
	<-done
	return err
}

// AddLocation checks the remote folder with the backend before storing the location
func (c *Client) AddLocation(ctx context.Context, loc *sync.Location) (*sync.Location, error) {
	if c.workspace.Contains(loc.Local) {
		return nil, ErrInsideWorkspace
	}

	present, err := c.sdk.DirPresent(ctx, loc.RemoteUUID)
	if err != nil {
		return nil, fmt.Errorf("check remote folder %s: %w", loc.RemoteUUID, err)
	}
	if !present.Present || present.Trash {
		return nil, fmt.Errorf("%s: %w", loc.RemoteUUID, ErrRemoteNotFolder)
	}

	return c.sync.AddLocation(loc)
}

func (c *Client) RemoveLocation(id string) error {
	if err := c.sync.RemoveLocation(id); err != nil {
		return err
	}
	return removeStatus(c.store, id)
}

// Statuses returns what the last cycles recorded for each location
func (c *Client) Statuses() ([]*LocationStatus, error) {
	return LoadStatuses(c.store)
}

func (c *Client) Close() error {
	c.sdk.Close()
	return c.store.Close()
}
