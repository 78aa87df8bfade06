package sync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/google/uuid"
	"github.com/openmined/cryptsync/internal/utils"
)

// SyncManager owns the engine and the location bookkeeping the CLI drives
type SyncManager struct {
	engine  *SyncEngine
	journal *SyncJournal
}

func NewManager(api RemoteAPI, crypt Cryptor, creds Credentials, store Store, cfg *EngineConfig) (*SyncManager, error) {
	engine, err := NewSyncEngine(api, crypt, creds, store, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync engine: %w", err)
	}

	return &SyncManager{
		engine:  engine,
		journal: engine.Journal(),
	}, nil
}

func (m *SyncManager) Engine() *SyncEngine {
	return m.engine
}

func (m *SyncManager) Start(ctx context.Context) error {
	slog.Info("sync manager start")
	if err := m.engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	return nil
}

func (m *SyncManager) Stop() error {
	slog.Info("sync manager stop")
	return m.engine.Stop()
}

// RunOnce runs a single cycle without watching
func (m *SyncManager) RunOnce(ctx context.Context) error {
	return m.engine.RunSync(ctx)
}

func (m *SyncManager) Locations() ([]*Location, error) {
	return m.journal.Locations()
}

// AddLocation validates and stores a new location. Roots may not overlap.
func (m *SyncManager) AddLocation(loc *Location) (*Location, error) {
	if loc.UUID == "" {
		loc.UUID = uuid.NewString()
	}
	if loc.Type == "" {
		loc.Type = ModeTwoWay
	}

	local, err := utils.ResolvePath(loc.Local)
	if err != nil {
		return nil, err
	}
	loc.Local = local

	if err := loc.Validate(); err != nil {
		return nil, err
	}
	if err := utils.IsReadWritableDir(loc.Local); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLocalUnusable, err)
	}

	locs, err := m.journal.Locations()
	if err != nil {
		return nil, err
	}
	for _, other := range locs {
		if other.UUID == loc.UUID {
			return nil, fmt.Errorf("location %s already exists", loc.UUID)
		}
		if overlaps(other.Local, loc.Local) {
			return nil, fmt.Errorf("location %s overlaps %s", loc.Local, other.Local)
		}
	}

	if err := m.journal.SaveLocations(append(locs, loc)); err != nil {
		return nil, err
	}
	slog.Info("location added", "uuid", loc.UUID, "local", loc.Local, "remote", loc.Remote, "mode", loc.Type)
	return loc, nil
}

func (m *SyncManager) RemoveLocation(id string) error {
	if err := m.journal.RemoveLocation(id); err != nil {
		return err
	}
	m.engine.remote.Forget(id)
	slog.Info("location removed", "uuid", id)
	return nil
}

func (m *SyncManager) SetLocationPaused(id string, paused bool) error {
	return m.journal.UpdateLocation(id, func(l *Location) error {
		l.Paused = paused
		return nil
	})
}

// SetLocationExcluded replaces the selective sync patterns of a location
func (m *SyncManager) SetLocationExcluded(id string, patterns []string) error {
	return m.journal.UpdateLocation(id, func(l *Location) error {
		l.Excluded = slices.Clone(patterns)
		return nil
	})
}

func (m *SyncManager) Issues() ([]*SyncIssue, error) {
	return m.journal.Issues()
}

func (m *SyncManager) ClearIssues() error {
	slog.Info("sync issues cleared")
	return m.journal.ClearIssues()
}

func overlaps(a, b string) bool {
	rel, err := filepath.Rel(a, b)
	if err == nil && !startsWithDotDot(rel) {
		return true
	}
	rel, err = filepath.Rel(b, a)
	return err == nil && !startsWithDotDot(rel)
}

func startsWithDotDot(rel string) bool {
	return rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}
