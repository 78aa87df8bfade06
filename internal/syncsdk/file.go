package syncsdk

import (
	"context"
	"fmt"
	"strconv"
)

const (
	v1FileRename   = "/api/v1/file/rename"
	v1FileMove     = "/api/v1/file/move"
	v1FileTrash    = "/api/v1/file/trash"
	v1UploadChunk  = "/api/v1/upload"
	v1UploadDone   = "/api/v1/upload/done"
	v1DownloadPath = "/api/v1/download/{region}/{bucket}/{uuid}/{index}"
)

func (s *SyncSDK) RenameFile(ctx context.Context, params *RenameParams) error {
	return s.post(ctx, v1FileRename, params, "file rename")
}

func (s *SyncSDK) MoveFile(ctx context.Context, params *MoveParams) error {
	return s.post(ctx, v1FileMove, params, "file move")
}

func (s *SyncSDK) TrashFile(ctx context.Context, uuid string) error {
	return s.post(ctx, v1FileTrash, &TrashParams{UUID: uuid}, "file trash")
}

// UploadChunk sends one encrypted chunk. The bandwidth limiter is applied before the request.
func (s *SyncSDK) UploadChunk(ctx context.Context, params *UploadChunkParams) (*UploadChunkResponse, error) {
	if err := s.throttle(ctx, len(params.Data)); err != nil {
		return nil, err
	}

	var out UploadChunkResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"uuid":      params.UUID,
			"index":     strconv.Itoa(params.Index),
			"parent":    params.Parent,
			"uploadKey": params.UploadKey,
		}).
		SetContentType("application/octet-stream").
		SetBodyBytes(params.Data).
		SetSuccessResult(&out).
		Post(v1UploadChunk)
	if err := handleAPIError(resp, err, "upload chunk"); err != nil {
		s.stats.setLastError(err)
		return nil, err
	}

	s.stats.onSend(len(params.Data))
	return &out, nil
}

// UploadDone finalizes an upload so the file becomes visible in listings
func (s *SyncSDK) UploadDone(ctx context.Context, params *UploadDoneParams) (*UploadDoneResponse, error) {
	var out UploadDoneResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(params).
		SetSuccessResult(&out).
		Post(v1UploadDone)
	if err := handleAPIError(resp, err, "upload done"); err != nil {
		s.stats.setLastError(err)
		return nil, err
	}
	return &out, nil
}

// DownloadChunk fetches one encrypted chunk
func (s *SyncSDK) DownloadChunk(ctx context.Context, params *DownloadChunkParams) ([]byte, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"region": params.Region,
			"bucket": params.Bucket,
			"uuid":   params.UUID,
			"index":  strconv.Itoa(params.Index),
		}).
		Get(v1DownloadPath)
	if err := handleAPIError(resp, err, "download chunk"); err != nil {
		s.stats.setLastError(err)
		return nil, err
	}

	data := resp.Bytes()
	if err := s.throttle(ctx, len(data)); err != nil {
		return nil, err
	}
	s.stats.onRecv(len(data))
	return data, nil
}

func (s *SyncSDK) throttle(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	// WaitN rejects n above burst, so wait in burst sized steps
	for burst := s.limiter.Burst(); n > 0; n -= burst {
		if err := s.limiter.WaitN(ctx, min(n, burst)); err != nil {
			return fmt.Errorf("bandwidth limiter: %w", err)
		}
	}
	return nil
}
