package session

import "github.com/pkg/errors"

var (
	// ErrNotOpened is returned when message is sent through session which is not open.
	ErrNotOpened = errors.New("session not opened")

	// ErrAlreadyOpened is returned by Open called on open session.
	ErrAlreadyOpened = errors.New("session already opened")

	// ErrOpenTimeout is returned when session does not open in time.
	ErrOpenTimeout = errors.New("session open timed out")

	// ErrOpenCancelled is returned when opening is cancelled by Close.
	ErrOpenCancelled = errors.New("session open cancelled")

	// ErrReleased is returned by Open called on released session.
	ErrReleased = errors.New("session released")

	// ErrSendFailed is returned when channel refuses the message.
	ErrSendFailed = errors.New("channel refused message")

	// ErrClosed rejects session calls pending when session is closed.
	ErrClosed = errors.New("session closed")

	// ErrUnknownCall is returned by peer not handling the session call type.
	ErrUnknownCall = errors.New("unknown session call")
)
