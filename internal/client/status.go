package client

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/openmined/cryptsync/internal/client/sync"
	"github.com/openmined/cryptsync/internal/kvstore"
)

const keyLocationStatus = "locationStatus:"

type LocationState string

const (
	StateSyncing LocationState = "syncing"
	StateSynced  LocationState = "synced"
	StateError   LocationState = "error"
)

// LocationStatus is the outcome of the latest cycle of a location, kept in the
// state db so `cryptsync status` works while the daemon owns the workspace
type LocationStatus struct {
	Location   string        `json:"location"`
	State      LocationState `json:"state"`
	Stage      string        `json:"stage,omitempty"`
	Error      string        `json:"error,omitempty"`
	Tasks      int           `json:"tasks"`
	Failed     int           `json:"failed"`
	LastSynced time.Time     `json:"lastSynced"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// statusRecorder folds engine events into one LocationStatus per location
type statusRecorder struct {
	store   *kvstore.Store
	status  *sync.SyncStatus
	current map[string]*LocationStatus
}

func newStatusRecorder(store *kvstore.Store, status *sync.SyncStatus) *statusRecorder {
	return &statusRecorder{
		store:   store,
		status:  status,
		current: make(map[string]*LocationStatus),
	}
}

// subscribe hooks into the engine before it starts emitting. The returned
// function consumes events until ctx is done, then drains what is buffered.
func (r *statusRecorder) subscribe() func(ctx context.Context) error {
	events := r.status.Subscribe()
	return func(ctx context.Context) error {
		defer r.status.Unsubscribe(events)
		for {
			select {
			case <-ctx.Done():
				for {
					select {
					case ev, ok := <-events:
						if !ok {
							return nil
						}
						r.handle(ev)
					default:
						return nil
					}
				}
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				r.handle(ev)
			}
		}
	}
}

func (r *statusRecorder) handle(ev *sync.SyncEvent) {
	switch ev.Type {
	case sync.EventSyncStatus:
		if ev.Stage != sync.StageTick || ev.Status == sync.StatusStart {
			return
		}
		// locations that got through the tick without an error are in sync
		for _, st := range r.current {
			if st.State != StateSyncing {
				continue
			}
			if ev.Status == sync.StatusDone {
				st.State = StateSynced
				st.LastSynced = ev.Time
			} else {
				st.State = StateError
				st.Error = errString(ev.Err)
			}
			r.save(st, ev.Time)
		}

	case sync.EventSyncStatusLocation:
		if ev.Stage == sync.StageWatcher {
			// the cycle goes on without one
			return
		}
		st := r.get(ev.Location)
		st.Stage = ev.Stage
		switch {
		case ev.Status == sync.StatusError:
			st.State = StateError
			st.Error = errString(ev.Err)
		case ev.Stage == sync.StageSmokeTest && ev.Status == sync.StatusStart:
			st.State = StateSyncing
			st.Error = ""
			st.Tasks = 0
			st.Failed = 0
		default:
			return
		}
		r.save(st, ev.Time)

	case sync.EventSyncTask:
		st := r.get(ev.Location)
		switch ev.Status {
		case sync.StatusDone:
			st.Tasks++
		case sync.StatusError:
			st.Failed++
		}
	}
}

func (r *statusRecorder) get(loc string) *LocationStatus {
	if st, ok := r.current[loc]; ok {
		return st
	}
	st := &LocationStatus{Location: loc}
	if _, err := r.store.GetJSON(keyLocationStatus+loc, st); err != nil {
		slog.Warn("load location status", "location", loc, "error", err)
	}
	r.current[loc] = st
	return st
}

func (r *statusRecorder) save(st *LocationStatus, at time.Time) {
	st.UpdatedAt = at
	if err := r.store.SetJSON(keyLocationStatus+st.Location, st); err != nil {
		slog.Warn("save location status", "location", st.Location, "error", err)
	}
}

// LoadStatuses returns the recorded status of every location, ordered by location id
func LoadStatuses(store *kvstore.Store) ([]*LocationStatus, error) {
	keys, err := store.Keys(keyLocationStatus)
	if err != nil {
		return nil, err
	}

	out := make([]*LocationStatus, 0, len(keys))
	for _, key := range keys {
		var st LocationStatus
		ok, err := store.GetJSON(key, &st)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if st.Location == "" {
			st.Location = strings.TrimPrefix(key, keyLocationStatus)
		}
		out = append(out, &st)
	}
	return out, nil
}

func removeStatus(store *kvstore.Store, loc string) error {
	return store.Remove(keyLocationStatus + loc)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
