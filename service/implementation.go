package service

import (
	"context"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/outofforest/rpckit/wire"
)

// CallContext describes the call to implementations requiring it.
type CallContext struct {
	Remote wire.Peer
	Ext    map[string]any
}

// Call is the invocation passed to handler.
type Call struct {
	Args []any
	// Context is set only for implementations built with NeedsCallContext.
	Context *CallContext
}

// Handler serves API call.
type Handler func(ctx context.Context, call Call) (any, error)

// Instance is the live object implementing service.
type Instance interface {
	Handler(api string) (Handler, bool)
}

// Handlers is the instance defined by the map of API handlers.
type Handlers map[string]Handler

// Handler returns handler of the API.
func (h Handlers) Handler(api string) (Handler, bool) {
	handler, exists := h[api]
	return handler, exists && handler != nil
}

// Closer is implemented by instances releasing resources when service is removed.
type Closer interface {
	Close() error
}

// Emitter emits events of the service.
type Emitter interface {
	Emit(event string, args ...any) error
}

// Factory creates service instance.
type Factory func(emitter Emitter) (Instance, error)

// ImplOption configures implementation.
type ImplOption func(impl *Implementation)

// NeedsCallContext makes the server pass call context to handlers.
func NeedsCallContext() ImplOption {
	return func(impl *Implementation) {
		impl.needsCallContext = true
	}
}

// Implementation binds factory to the descriptor it implements.
type Implementation struct {
	desc             *Descriptor
	factory          Factory
	needsCallContext bool
}

// Implement creates implementation of the descriptor.
func Implement(desc *Descriptor, factory Factory, opts ...ImplOption) *Implementation {
	impl := &Implementation{
		desc:    desc,
		factory: factory,
	}
	for _, o := range opts {
		o(impl)
	}
	return impl
}

// Descriptor returns implemented descriptor.
func (impl *Implementation) Descriptor() *Descriptor {
	return impl.desc
}

// NeedsCallContext tells if handlers expect call context.
func (impl *Implementation) NeedsCallContext() bool {
	return impl.needsCallContext
}

func (impl *Implementation) instantiate(emitter Emitter) (Instance, error) {
	instance, err := impl.factory(emitter)
	if err != nil {
		return nil, errors.Wrapf(err, "creating instance of service %q failed", impl.desc.id)
	}
	if instance == nil {
		return nil, errors.Errorf("factory of service %q returned no instance", impl.desc.id)
	}

	missing := lo.Filter(impl.desc.apiNames, func(api string, _ int) bool {
		_, exists := instance.Handler(api)
		return !exists
	})
	if len(missing) > 0 {
		if c, ok := instance.(Closer); ok {
			_ = c.Close()
		}
		return nil, errors.Wrapf(ErrNotImplemented, "service %q misses %v", impl.desc.id, missing)
	}
	return instance, nil
}
