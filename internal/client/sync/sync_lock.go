package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/openmined/cryptsync/internal/syncsdk"
)

type LockState string

const (
	LockUnlocked  LockState = "unlocked"
	LockAcquiring LockState = "acquiring"
	LockHeld      LockState = "held"
	LockReleasing LockState = "releasing"
)

// SyncLock holds the backend lock that keeps two clients of the same account
// from syncing at once. While held it is renewed every timeout/2.
type SyncLock struct {
	api           RemoteAPI
	params        *syncsdk.LockParams
	timeout       time.Duration
	retryInterval time.Duration

	mu          sync.Mutex
	state       LockState
	stopRenewal context.CancelFunc
	renewalDone chan struct{}
	renewing    atomic.Bool
}

func NewSyncLock(api RemoteAPI, resource string, timeout, retryInterval time.Duration) *SyncLock {
	return &SyncLock{
		api: api,
		params: &syncsdk.LockParams{
			Resource: resource,
			LockID:   uuid.NewString(),
		},
		timeout:       timeout,
		retryInterval: retryInterval,
		state:         LockUnlocked,
	}
}

func (l *SyncLock) State() LockState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *SyncLock) setState(s LockState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Acquire blocks until the lock is held. A lock held by someone else is retried
// until ctx ends, any other error is returned.
func (l *SyncLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.state != LockUnlocked {
		l.mu.Unlock()
		return fmt.Errorf("acquire lock: state %s", l.state)
	}
	l.state = LockAcquiring
	l.mu.Unlock()

	for {
		err := l.api.AcquireLock(ctx, l.params)
		if err == nil {
			break
		}
		if !errors.Is(err, syncsdk.ErrLocked) {
			l.setState(LockUnlocked)
			return fmt.Errorf("acquire lock: %w", err)
		}

		slog.Debug("sync lock busy, retrying", "resource", l.params.Resource, "in", l.retryInterval)
		select {
		case <-ctx.Done():
			l.setState(LockUnlocked)
			return ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	l.mu.Lock()
	l.state = LockHeld
	l.stopRenewal = cancel
	l.renewalDone = done
	l.mu.Unlock()

	go l.renewLoop(renewCtx, done)
	return nil
}

func (l *SyncLock) renewLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := l.timeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				l.renew(ctx)
			}()
		}
	}
}

// renew refreshes the lock unless a refresh is already in flight
func (l *SyncLock) renew(ctx context.Context) {
	if !l.renewing.CompareAndSwap(false, true) {
		return
	}
	defer l.renewing.Store(false)

	if err := l.api.RefreshLock(ctx, l.params); err != nil && ctx.Err() == nil {
		slog.Warn("sync lock renewal failed", "resource", l.params.Resource, "error", err)
	}
}

// Release gives the lock back. It does nothing unless the lock is held.
func (l *SyncLock) Release(ctx context.Context) error {
	l.mu.Lock()
	if l.state != LockHeld {
		l.mu.Unlock()
		return nil
	}
	l.state = LockReleasing
	stop, done := l.stopRenewal, l.renewalDone
	l.stopRenewal, l.renewalDone = nil, nil
	l.mu.Unlock()

	stop()
	<-done

	err := l.api.ReleaseLock(ctx, l.params)
	l.setState(LockUnlocked)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
