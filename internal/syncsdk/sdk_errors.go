package syncsdk

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/imroc/req/v3"
)

var (
	ErrNoServerURL     = errors.New("sdk: server url missing")
	ErrNoAPIKey        = errors.New("sdk: api key missing")
	ErrNotFound        = errors.New("sdk: not found")
	ErrAlreadyExists   = errors.New("sdk: already exists")
	ErrLocked          = errors.New("sdk: resource locked")
	ErrUnauthenticated = errors.New("sdk: unauthenticated")
)

const (
	CodeInvalidRequest = "E_INVALID_REQUEST"
	CodeRateLimited    = "E_RATE_LIMITED"
	CodeInternalError  = "E_INTERNAL_ERROR"
	CodeUnauthorized   = "E_UNAUTHORIZED"
	CodeUnknownError   = "E_UNKNOWN_ERR"

	CodeNotFound      = "E_NOT_FOUND"
	CodeFolderMissing = "E_FOLDER_NOT_FOUND"
	CodeFileMissing   = "E_FILE_NOT_FOUND"
	CodeAlreadyExists = "E_ALREADY_EXISTS"
	CodeAlreadyTrash  = "E_ALREADY_TRASHED"
	CodeLocked        = "E_RESOURCE_LOCKED"
)

type SDKError interface {
	error
	ErrorCode() string
	ErrorMessage() string
}

type BaseError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *BaseError) ErrorCode() string    { return e.Code }
func (e *BaseError) ErrorMessage() string { return e.Message }

// APIError is the error body returned by the backend
type APIError struct {
	BaseError
}

func NewAPIError(code, message string) *APIError {
	return &APIError{BaseError: BaseError{Code: code, Message: message}}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// Is maps backend codes onto the package sentinels so callers can use errors.Is
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == CodeNotFound || e.Code == CodeFolderMissing || e.Code == CodeFileMissing || e.Code == CodeAlreadyTrash
	case ErrAlreadyExists:
		return e.Code == CodeAlreadyExists
	case ErrLocked:
		return e.Code == CodeLocked
	case ErrUnauthenticated:
		return e.Code == CodeUnauthorized
	}
	return false
}

var _ SDKError = (*APIError)(nil)

func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s: %w", operation, requestErr)
	}

	if resp.IsErrorState() {
		if apiErr, ok := resp.ErrorResult().(*APIError); ok && apiErr.Code != "" {
			return fmt.Errorf("%s: %w", operation, apiErr)
		}
		code := CodeUnknownError
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			code = CodeUnauthorized
		}
		return fmt.Errorf("%s: %w", operation, NewAPIError(code, fmt.Sprintf("status %d", resp.StatusCode)))
	}

	return nil
}
