package syncsdk

import (
	"context"
)

const (
	v1LockAcquire = "/api/v1/lock/acquire"
	v1LockRefresh = "/api/v1/lock/refresh"
	v1LockRelease = "/api/v1/lock/release"
)

// AcquireLock returns an error wrapping ErrLocked when another client holds resource
func (s *SyncSDK) AcquireLock(ctx context.Context, params *LockParams) error {
	return s.lockCall(ctx, v1LockAcquire, params, "lock acquire")
}

// RefreshLock extends the lease on a lock this client holds
func (s *SyncSDK) RefreshLock(ctx context.Context, params *LockParams) error {
	return s.lockCall(ctx, v1LockRefresh, params, "lock refresh")
}

func (s *SyncSDK) ReleaseLock(ctx context.Context, params *LockParams) error {
	return s.lockCall(ctx, v1LockRelease, params, "lock release")
}

func (s *SyncSDK) lockCall(ctx context.Context, path string, params *LockParams, op string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetRetryCount(0).
		SetBody(params).
		Post(path)
	return handleAPIError(resp, err, op)
}
