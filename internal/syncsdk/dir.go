package syncsdk

import (
	"context"
	"fmt"
)

const (
	v1DirTree    = "/api/v1/dir/tree"
	v1DirPresent = "/api/v1/dir/present"
	v1DirCreate  = "/api/v1/dir/create"
	v1DirRename  = "/api/v1/dir/rename"
	v1DirMove    = "/api/v1/dir/move"
	v1DirTrash   = "/api/v1/dir/trash"
)

// DirTree returns the flat recursive listing under a folder along with the raw
// response body, so callers can skip decoding work when nothing changed.
func (s *SyncSDK) DirTree(ctx context.Context, params *DirTreeParams) (raw []byte, tree *DirTreeResponse, err error) {
	if params.DeviceID == "" {
		params.DeviceID = DeviceID
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(params).
		Post(v1DirTree)
	if err := handleAPIError(resp, err, "dir tree"); err != nil {
		s.stats.setLastError(err)
		return nil, nil, err
	}

	raw = resp.Bytes()
	s.stats.onRecv(len(raw))

	tree = &DirTreeResponse{}
	if err := jsonUnmarshal(raw, tree); err != nil {
		return nil, nil, fmt.Errorf("decode dir tree: %w", err)
	}
	return raw, tree, nil
}

func (s *SyncSDK) DirPresent(ctx context.Context, uuid string) (*DirPresentResponse, error) {
	var out DirPresentResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(&TrashParams{UUID: uuid}).
		SetSuccessResult(&out).
		Post(v1DirPresent)
	if err := handleAPIError(resp, err, "dir present"); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateFolder treats an existing folder with the same uuid as success
func (s *SyncSDK) CreateFolder(ctx context.Context, params *CreateFolderParams) (*CreateFolderResponse, error) {
	var out CreateFolderResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(params).
		SetSuccessResult(&out).
		Post(v1DirCreate)
	if err := handleAPIError(resp, err, "dir create"); err != nil {
		return nil, err
	}
	if out.UUID == "" {
		out.UUID = params.UUID
	}
	return &out, nil
}

func (s *SyncSDK) RenameFolder(ctx context.Context, params *RenameParams) error {
	return s.post(ctx, v1DirRename, params, "dir rename")
}

func (s *SyncSDK) MoveFolder(ctx context.Context, params *MoveParams) error {
	return s.post(ctx, v1DirMove, params, "dir move")
}

func (s *SyncSDK) TrashFolder(ctx context.Context, uuid string) error {
	return s.post(ctx, v1DirTrash, &TrashParams{UUID: uuid}, "dir trash")
}

func (s *SyncSDK) post(ctx context.Context, path string, body any, op string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err := handleAPIError(resp, err, op); err != nil {
		s.stats.setLastError(err)
		return err
	}
	return nil
}
