package service

import (
	"github.com/pkg/errors"

	"github.com/outofforest/rpckit/wire"
)

var (
	// ErrDuplicateService is returned when service with the same ID is already registered.
	ErrDuplicateService = errors.New("service already registered")

	// ErrDescriptorMismatch is returned when implementation was built for another descriptor.
	ErrDescriptorMismatch = errors.New("implementation does not match descriptor")

	// ErrNotImplemented is returned when instance does not handle every declared API.
	ErrNotImplemented = errors.New("api not implemented")

	// ErrReleased is returned by released registry.
	ErrReleased = errors.New("registry released")

	// ErrUnknownService is returned for service which is not registered.
	ErrUnknownService = errors.New("unknown service")

	// ErrUnknownAPI is returned for API not declared by the service.
	ErrUnknownAPI = errors.New("unknown api")

	// ErrUnknownEvent is returned for event not declared by the service.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrAccessDenied is returned when ACL denies the access.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidArgs is returned when arguments cannot be decoded.
	ErrInvalidArgs = errors.New("invalid arguments")
)

// Error codes carried by wire errors.
const (
	CodeUnknownService = "unknown_service"
	CodeUnknownAPI     = "unknown_api"
	CodeAccessDenied   = "access_denied"
	CodeInvalidArgs    = "invalid_args"
)

var errorCodes = map[string]error{
	CodeUnknownService: ErrUnknownService,
	CodeUnknownAPI:     ErrUnknownAPI,
	CodeAccessDenied:   ErrAccessDenied,
	CodeInvalidArgs:    ErrInvalidArgs,
}

// RemoteError is the failure reported by the peer.
type RemoteError struct {
	Service string
	API     string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Is matches the sentinel error of the code.
func (e *RemoteError) Is(target error) bool {
	sentinel, exists := errorCodes[e.Code]
	return exists && sentinel == target
}

func remoteError(err *wire.Error, service, api string) error {
	return &RemoteError{
		Service: service,
		API:     api,
		Code:    err.Code,
		Message: err.Message,
	}
}

func wireError(err error) *wire.Error {
	for code, sentinel := range errorCodes {
		if errors.Is(err, sentinel) {
			return &wire.Error{Code: code, Message: err.Error()}
		}
	}
	return &wire.Error{Message: err.Error()}
}

// ErrorCode returns the code reported to the peer for the error. Errors without code
// produce empty string.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	return wireError(err).Code
}
