package sync

import (
	"fmt"
	"sync"
	"time"
)

const syncEventBufferSize = 256

// EventType says which part of the engine an event comes from
type EventType string

const (
	EventSyncStatus         EventType = "syncStatus"
	EventSyncStatusLocation EventType = "syncStatusLocation"
	EventSyncTask           EventType = "syncTask"
	EventSyncTaskProgress   EventType = "syncTaskProgress"
)

// EventStatus is the lifecycle phase an event reports
type EventStatus string

const (
	StatusStart EventStatus = "start"
	StatusDone  EventStatus = "done"
	StatusError EventStatus = "err"
)

// Stages of a tick and of a location cycle, in the order they run
const (
	StageTick      = "tick"
	StageSmokeTest = "smokeTest"
	StageWatcher   = "watcher"
	StageTrees     = "trees"
	StageLastTrees = "lastTrees"
	StagePlan      = "plan"
	StageExecute   = "execute"
	StageApply     = "apply"
)

// SyncEvent is broadcast to subscribers. Stage names the tick or location stage
// for status events, Task is set for task events.
type SyncEvent struct {
	Type     EventType   `json:"type"`
	Status   EventStatus `json:"status"`
	Stage    string      `json:"stage,omitempty"`
	Location string      `json:"location,omitempty"`
	Task     *Task       `json:"task,omitempty"`
	Bytes    int64       `json:"bytes,omitempty"`
	Total    int64       `json:"total,omitempty"`
	Err      error       `json:"-"`
	Time     time.Time   `json:"time"`
}

func (e *SyncEvent) String() string {
	s := fmt.Sprintf("%s %s", e.Type, e.Status)
	if e.Stage != "" {
		s += " " + e.Stage
	}
	if e.Task != nil {
		s += " " + e.Task.String()
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// TaskState is the last known state of a task in the current cycle
type TaskState struct {
	Task        *Task
	Status      EventStatus
	Bytes       int64
	Total       int64
	Error       error
	LastUpdated time.Time
}

// SyncStatus keeps per-task progress and fans events out to subscribers.
// Sends never block: a subscriber that falls behind misses events.
type SyncStatus struct {
	tasks map[string]*TaskState
	mu    sync.RWMutex

	eventSubs []chan *SyncEvent
	eventMu   sync.RWMutex
}

func NewSyncStatus() *SyncStatus {
	return &SyncStatus{
		tasks:     make(map[string]*TaskState),
		eventSubs: make([]chan *SyncEvent, 0),
	}
}

// Subscribe returns a channel for receiving sync events
func (s *SyncStatus) Subscribe() <-chan *SyncEvent {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	ch := make(chan *SyncEvent, syncEventBufferSize)
	s.eventSubs = append(s.eventSubs, ch)
	return ch
}

// Unsubscribe removes a subscription channel
func (s *SyncStatus) Unsubscribe(ch <-chan *SyncEvent) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	for i, sub := range s.eventSubs {
		if sub == ch {
			close(sub)
			s.eventSubs = append(s.eventSubs[:i], s.eventSubs[i+1:]...)
			break
		}
	}
}

func (s *SyncStatus) broadcast(event *SyncEvent) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	s.eventMu.RLock()
	defer s.eventMu.RUnlock()

	for _, sub := range s.eventSubs {
		select {
		case sub <- event:
		default:
			// Channel is full, skip to avoid blocking
		}
	}
}

// Stage reports a tick stage (loc empty) or a location stage
func (s *SyncStatus) Stage(loc, stage string, status EventStatus, err error) {
	typ := EventSyncStatus
	if loc != "" {
		typ = EventSyncStatusLocation
	}
	s.broadcast(&SyncEvent{Type: typ, Status: status, Stage: stage, Location: loc, Err: err})
}

func (s *SyncStatus) TaskStarted(loc string, t *Task) {
	s.setTask(loc, t, StatusStart, nil)
}

func (s *SyncStatus) TaskDone(loc string, t *Task) {
	s.setTask(loc, t, StatusDone, nil)
}

func (s *SyncStatus) TaskFailed(loc string, t *Task, err error) {
	s.setTask(loc, t, StatusError, err)
}

// TaskProgress reports transferred bytes for an upload or download
func (s *SyncStatus) TaskProgress(loc string, t *Task, bytes, total int64) {
	s.mu.Lock()
	state := s.getOrCreate(t)
	state.Bytes = bytes
	state.Total = total
	state.LastUpdated = time.Now()
	s.mu.Unlock()

	s.broadcast(&SyncEvent{
		Type:     EventSyncTaskProgress,
		Status:   StatusStart,
		Location: loc,
		Task:     t,
		Bytes:    bytes,
		Total:    total,
	})
}

func (s *SyncStatus) setTask(loc string, t *Task, status EventStatus, err error) {
	s.mu.Lock()
	state := s.getOrCreate(t)
	state.Status = status
	state.Error = err
	state.LastUpdated = time.Now()
	if status == StatusDone {
		delete(s.tasks, t.UUID)
	}
	s.mu.Unlock()

	s.broadcast(&SyncEvent{Type: EventSyncTask, Status: status, Location: loc, Task: t, Err: err})
}

func (s *SyncStatus) getOrCreate(t *Task) *TaskState {
	if state, ok := s.tasks[t.UUID]; ok {
		return state
	}
	state := &TaskState{Task: t, LastUpdated: time.Now()}
	s.tasks[t.UUID] = state
	return state
}

// GetTasks returns a copy of the tracked task states. Completed tasks are not tracked.
func (s *SyncStatus) GetTasks() []TaskState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TaskState, 0, len(s.tasks))
	for _, state := range s.tasks {
		out = append(out, *state)
	}
	return out
}

// GetFailedCount returns how many tracked tasks ended in error
func (s *SyncStatus) GetFailedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, state := range s.tasks {
		if state.Status == StatusError {
			count++
		}
	}
	return count
}

// Reset forgets task states, called at the start of every cycle
func (s *SyncStatus) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[string]*TaskState)
}

func (s *SyncStatus) Close() {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	for _, sub := range s.eventSubs {
		close(sub)
	}

	s.eventSubs = make([]chan *SyncEvent, 0)
	s.Reset()
}
