package rpckit

import "github.com/pkg/errors"

var (
	// ErrMissingChannel is returned when terminal is configured without channel.
	ErrMissingChannel = errors.New("channel is required")

	// ErrReleased is returned by operations on released terminal.
	ErrReleased = errors.New("terminal released")
)
