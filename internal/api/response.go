package api

import (
	"context"
	"errors"
	"net/http"

	"devsync-go/internal/device"
	"devsync-go/internal/registry"
	"devsync-go/internal/transport"
)

// Error codes carried in failed responses.
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeNotFound             = "NOT_FOUND"
	CodeAlreadySyncing       = "ALREADY_SYNCING"
	CodeConfirmationRequired = "CONFIRMATION_REQUIRED"
	CodeSyncTimeout          = "SYNC_TIMEOUT"
	CodeConnectionFailed     = "CONNECTION_FAILED"
	CodeAuthFailed           = "AUTH_FAILED"
	CodeRemoteWriteFailed    = "REMOTE_WRITE_FAILED"
	CodeRegistryBusy         = "REGISTRY_BUSY"
	CodeRegistryCorrupt      = "REGISTRY_CORRUPT"
	CodeInternal             = "INTERNAL"
)

// Response is the envelope every control surface call returns.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes a failure.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OK wraps a successful result.
func OK(data any) Response { return Response{Success: true, Data: data} }

// Fail wraps err; data, when non-nil, carries partial state such as the failed device record.
func Fail(err error, data any) Response {
	return Response{Data: data, Error: &ErrorBody{Code: Code(err), Message: err.Error()}}
}

// Code maps an error onto its stable response code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrInvalidDevice), errors.Is(err, errInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, device.ErrDeviceNotFound):
		return CodeNotFound
	case errors.Is(err, device.ErrAlreadySyncing):
		return CodeAlreadySyncing
	case errors.Is(err, device.ErrConfirmationRequired):
		return CodeConfirmationRequired
	case errors.Is(err, device.ErrSyncTimeout):
		return CodeSyncTimeout
	case transport.KindOf(err) != nil:
		return transportCode(transport.KindOf(err))
	case errors.Is(err, registry.ErrLockTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeRegistryBusy
	case errors.Is(err, device.ErrRegistryCorrupt):
		return CodeRegistryCorrupt
	default:
		return CodeInternal
	}
}

func transportCode(kind error) string {
	switch kind {
	case transport.ErrAuthFailed:
		return CodeAuthFailed
	case transport.ErrRemoteWriteFailed:
		return CodeRemoteWriteFailed
	default:
		return CodeConnectionFailed
	}
}

// HTTPStatus maps a response code onto an HTTP status.
func HTTPStatus(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadySyncing, CodeConfirmationRequired:
		return http.StatusConflict
	case CodeSyncTimeout:
		return http.StatusGatewayTimeout
	case CodeConnectionFailed, CodeAuthFailed, CodeRemoteWriteFailed:
		return http.StatusBadGateway
	case CodeRegistryBusy, CodeRegistryCorrupt:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ExitCode maps a response code onto a CLI exit status.
func ExitCode(code string) int {
	switch code {
	case "":
		return 0
	case CodeInvalidRequest:
		return 2
	case CodeNotFound:
		return 3
	case CodeAlreadySyncing, CodeConfirmationRequired:
		return 4
	case CodeSyncTimeout, CodeConnectionFailed, CodeAuthFailed, CodeRemoteWriteFailed:
		return 5
	default:
		return 1
	}
}
