package channel

import "github.com/pkg/errors"

var (
	// ErrInvalidIdentity is returned when identity or configuration of the channel is incomplete.
	ErrInvalidIdentity = errors.New("invalid channel identity")

	// ErrNoRemote is returned when there is no target to post to.
	ErrNoRemote = errors.New("remote endpoint is not available")

	// ErrAlreadyOpen is returned by Open called on open channel.
	ErrAlreadyOpen = errors.New("channel already open")

	// ErrPostPanicked is returned when the medium panicked while posting.
	ErrPostPanicked = errors.New("medium panicked while posting")
)
