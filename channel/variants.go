package channel

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/outofforest/rpckit/medium"
)

// DefaultEventName is the event used by event channels unless configured otherwise.
const DefaultEventName = "rpckit:message"

// PostMessageConfig configures cross-window channel.
type PostMessageConfig struct {
	// Local is the window this end listens on.
	Local medium.Source
	// Remote is the window of the other end. If it is nil, primary side obtains it from Load.
	Remote medium.Target
	// Load materializes the remote endpoint, e.g. creates the frame hosting the guest.
	Load func(ctx context.Context) (medium.Target, error)
	// Unload is called when the channel is torn down after Load succeeded.
	Unload func()
	// DontWaitEcho makes primary side sendable without waiting for the echo.
	DontWaitEcho bool
}

// NewPostMessage creates channel between two windows.
func NewPostMessage(id Identity, config PostMessageConfig) (*Link, error) {
	if config.Local == nil {
		return nil, errors.Wrap(ErrInvalidIdentity, "local window is required")
	}
	if config.Remote == nil && (config.Load == nil || id.Role == Secondary) {
		return nil, errors.Wrap(ErrInvalidIdentity, "remote window or loader is required")
	}
	return newLink(id, config.DontWaitEcho, &postMessageTransport{config: config})
}

// PostMessage returns factory of cross-window channels.
func PostMessage(config PostMessageConfig) Factory {
	return func(id Identity) (Channel, error) {
		return NewPostMessage(id, config)
	}
}

type postMessageTransport struct {
	config PostMessageConfig

	mu     sync.Mutex
	remote medium.Target
	loaded bool
}

func (t *postMessageTransport) listen(fn func(v any)) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.remote = t.config.Remote
	return t.config.Local.Listen(fn), nil
}

func (t *postMessageTransport) post(v any) error {
	t.mu.Lock()
	remote := t.remote
	t.mu.Unlock()

	if remote == nil {
		return errors.WithStack(ErrNoRemote)
	}
	return remote.PostMessage(v)
}

func (t *postMessageTransport) setup(ctx context.Context) error {
	if t.config.Remote != nil || t.config.Load == nil {
		return nil
	}

	remote, err := t.config.Load(ctx)
	if err != nil {
		return err
	}
	if remote == nil {
		return errors.WithStack(ErrNoRemote)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.remote = remote
	t.loaded = true
	return nil
}

func (t *postMessageTransport) teardown() {
	t.mu.Lock()
	loaded := t.loaded
	t.loaded = false
	t.remote = nil
	t.mu.Unlock()

	if loaded && t.config.Unload != nil {
		t.config.Unload()
	}
}

// WindowConfig configures same-window channel.
type WindowConfig struct {
	Window       medium.Window
	DontWaitEcho bool
}

// NewWindow creates channel between two ends living in the same window. Delivery preserves
// posting order.
func NewWindow(id Identity, config WindowConfig) (*Link, error) {
	if config.Window == nil {
		return nil, errors.Wrap(ErrInvalidIdentity, "window is required")
	}
	return newLink(id, config.DontWaitEcho, windowTransport{window: config.Window})
}

// Window returns factory of same-window channels.
func Window(config WindowConfig) Factory {
	return func(id Identity) (Channel, error) {
		return NewWindow(id, config)
	}
}

type windowTransport struct {
	window medium.Window
}

func (t windowTransport) listen(fn func(v any)) (func(), error) {
	return t.window.Listen(fn), nil
}

func (t windowTransport) post(v any) error {
	return t.window.PostMessage(v)
}

func (t windowTransport) setup(ctx context.Context) error {
	return nil
}

func (t windowTransport) teardown() {}

// EventConfig configures custom-event channel.
type EventConfig struct {
	Target       *medium.EventTarget
	Name         string
	DontWaitEcho bool
}

// NewEvent creates channel exchanging custom events on shared event target. Delivery is
// synchronous.
func NewEvent(id Identity, config EventConfig) (*Link, error) {
	return NewEventLoader(id, EventLoaderConfig{EventConfig: config})
}

// Event returns factory of custom-event channels.
func Event(config EventConfig) Factory {
	return func(id Identity) (Channel, error) {
		return NewEvent(id, config)
	}
}

// EventLoaderConfig configures custom-event channel running asynchronous load step before
// waiting for the echo.
type EventLoaderConfig struct {
	EventConfig

	// Load brings the other end up, e.g. loads the module of the guest.
	Load func(ctx context.Context) error
	// Unload is called when the channel is torn down after Load succeeded.
	Unload func()
}

// NewEventLoader creates custom-event channel with load step.
func NewEventLoader(id Identity, config EventLoaderConfig) (*Link, error) {
	if config.Target == nil {
		return nil, errors.Wrap(ErrInvalidIdentity, "event target is required")
	}
	if config.Name == "" {
		config.Name = DefaultEventName
	}
	return newLink(id, config.DontWaitEcho, &eventTransport{config: config})
}

// EventLoader returns factory of custom-event channels with load step.
func EventLoader(config EventLoaderConfig) Factory {
	return func(id Identity) (Channel, error) {
		return NewEventLoader(id, config)
	}
}

type eventTransport struct {
	config EventLoaderConfig

	mu     sync.Mutex
	loaded bool
}

func (t *eventTransport) listen(fn func(v any)) (func(), error) {
	return t.config.Target.AddListener(t.config.Name, fn), nil
}

func (t *eventTransport) post(v any) error {
	return t.config.Target.Dispatch(t.config.Name, v)
}

func (t *eventTransport) setup(ctx context.Context) error {
	if t.config.Load == nil {
		return nil
	}
	if err := t.config.Load(ctx); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.loaded = true
	return nil
}

func (t *eventTransport) teardown() {
	t.mu.Lock()
	loaded := t.loaded
	t.loaded = false
	t.mu.Unlock()

	if loaded && t.config.Unload != nil {
		t.config.Unload()
	}
}
