package service

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/rpckit/bus"
	"github.com/outofforest/rpckit/lock"
)

const eventsTopic = "events"

// Event is emitted by service instance.
type Event struct {
	Service string
	Name    string
	Args    []any
}

type addOptions struct {
	lazy bool
}

// AddOption configures service registration.
type AddOption func(o *addOptions)

// Lazy postpones instantiation until the service is looked up for the first time.
func Lazy() AddOption {
	return func(o *addOptions) {
		o.lazy = true
	}
}

type entry struct {
	impl *Implementation

	init     lock.Mutex
	instance Instance
	removed  bool
}

type referral struct {
	registry *Registry
	pattern  Pattern
	token    bus.Token
}

type resolved struct {
	desc     *Descriptor
	impl     *Implementation
	instance Instance
}

// Registry owns services and their instances.
type Registry struct {
	log    *zap.Logger
	events *bus.Bus[Event]

	mu        sync.Mutex
	released  bool
	entries   map[string]*entry
	referrals []*referral
}

// NewRegistry creates new registry.
func NewRegistry(ctx context.Context) *Registry {
	return &Registry{
		log:     logger.Get(ctx),
		events:  bus.New[Event](),
		entries: map[string]*entry{},
	}
}

// AddService registers implementation of the descriptor. Unless Lazy option is passed,
// the instance is created immediately.
func (r *Registry) AddService(ctx context.Context, desc *Descriptor, impl *Implementation, opts ...AddOption) error {
	var options addOptions
	for _, o := range opts {
		o(&options)
	}

	if desc == nil || impl == nil {
		return errors.New("descriptor and implementation are required")
	}
	if impl.desc != desc {
		return errors.Wrapf(ErrDescriptorMismatch, "service %q", desc.id)
	}

	e := &entry{impl: impl}

	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return errors.WithStack(ErrReleased)
	}
	if _, exists := r.entries[desc.id]; exists {
		r.mu.Unlock()
		return errors.Wrapf(ErrDuplicateService, "service %q", desc.id)
	}
	r.entries[desc.id] = e
	r.mu.Unlock()

	if options.lazy {
		return nil
	}

	if _, err := r.instance(ctx, e); err != nil {
		r.mu.Lock()
		if r.entries[desc.id] == e {
			delete(r.entries, desc.id)
		}
		r.mu.Unlock()
		return err
	}
	return nil
}

// RemoveService removes service and closes its instance.
func (r *Registry) RemoveService(ctx context.Context, id string) error {
	r.mu.Lock()
	e, exists := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if !exists {
		return errors.Wrapf(ErrUnknownService, "service %q", id)
	}
	return r.dispose(ctx, e)
}

// GetServiceByID returns instance of the service, looking into referred registries if needed.
func (r *Registry) GetServiceByID(ctx context.Context, id string) (Instance, error) {
	res, err := r.resolve(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	return res.instance, nil
}

// GetService returns instance of the service described by the descriptor.
func (r *Registry) GetService(ctx context.Context, desc *Descriptor) (Instance, error) {
	res, err := r.resolve(ctx, desc.id, nil)
	if err != nil {
		return nil, err
	}
	if res.desc != desc {
		return nil, errors.Wrapf(ErrDescriptorMismatch, "service %q", desc.id)
	}
	return res.instance, nil
}

// Descriptor returns descriptor of the service visible through the registry.
func (r *Registry) Descriptor(id string) (*Descriptor, bool) {
	return r.descriptor(id, nil)
}

// Services returns IDs of services registered directly in the registry.
func (r *Registry) Services() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := lo.Keys(r.entries)
	slices.Sort(ids)
	return ids
}

// Refer makes services of other registry matching the pattern visible through this one.
// Their events are republished to subscribers of this registry.
func (r *Registry) Refer(other *Registry, pattern Pattern) error {
	if other == nil || other == r {
		return errors.New("registry cannot refer to itself")
	}
	if pattern == nil {
		return errors.New("pattern is required")
	}

	ref := &referral{
		registry: other,
		pattern:  pattern,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return errors.WithStack(ErrReleased)
	}

	ref.token = other.events.Subscribe(eventsTopic, func(ev Event) {
		if !pattern.Match(ev.Service) {
			return
		}

		r.mu.Lock()
		_, shadowed := r.entries[ev.Service]
		r.mu.Unlock()
		if !shadowed {
			r.events.Publish(eventsTopic, ev)
		}
	})
	r.referrals = append(r.referrals, ref)
	return nil
}

// SubscribeEvents registers callback receiving events of own and referred services.
func (r *Registry) SubscribeEvents(fn func(ev Event)) func() {
	token := r.events.Subscribe(eventsTopic, fn)
	return func() {
		r.events.Unsubscribe(token)
	}
}

// Release removes all the services and referrals. Registry cannot be used afterwards.
func (r *Registry) Release(ctx context.Context) error {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil
	}
	r.released = true
	entries := r.entries
	r.entries = map[string]*entry{}
	referrals := r.referrals
	r.referrals = nil
	r.mu.Unlock()

	for _, ref := range referrals {
		ref.registry.events.Unsubscribe(ref.token)
	}

	var err error
	for _, id := range lo.Keys(entries) {
		err = multierr.Append(err, r.dispose(ctx, entries[id]))
	}
	return err
}

func (r *Registry) resolve(ctx context.Context, id string, visited map[*Registry]struct{}) (*resolved, error) {
	r.mu.Lock()
	released := r.released
	e := r.entries[id]
	referrals := slices.Clone(r.referrals)
	r.mu.Unlock()

	if released {
		return nil, errors.WithStack(ErrReleased)
	}

	if e != nil {
		instance, err := r.instance(ctx, e)
		if err != nil {
			return nil, err
		}
		return &resolved{desc: e.impl.desc, impl: e.impl, instance: instance}, nil
	}

	visited = markVisited(visited, r)
	for _, ref := range referrals {
		if _, exists := visited[ref.registry]; exists || !ref.pattern.Match(id) {
			continue
		}
		res, err := ref.registry.resolve(ctx, id, visited)
		if errors.Is(err, ErrUnknownService) {
			continue
		}
		return res, err
	}

	return nil, errors.Wrapf(ErrUnknownService, "service %q", id)
}

func (r *Registry) descriptor(id string, visited map[*Registry]struct{}) (*Descriptor, bool) {
	r.mu.Lock()
	e := r.entries[id]
	referrals := slices.Clone(r.referrals)
	r.mu.Unlock()

	if e != nil {
		return e.impl.desc, true
	}

	visited = markVisited(visited, r)
	for _, ref := range referrals {
		if _, exists := visited[ref.registry]; exists || !ref.pattern.Match(id) {
			continue
		}
		if desc, exists := ref.registry.descriptor(id, visited); exists {
			return desc, true
		}
	}
	return nil, false
}

func (r *Registry) instance(ctx context.Context, e *entry) (Instance, error) {
	var instance Instance
	err := e.init.Do(ctx, func(ctx context.Context) error {
		if e.removed {
			return errors.Wrapf(ErrUnknownService, "service %q removed", e.impl.desc.id)
		}
		if e.instance == nil {
			i, err := e.impl.instantiate(emitter{registry: r, desc: e.impl.desc})
			if err != nil {
				return err
			}
			e.instance = i
			r.log.Debug("Service instantiated", zap.String("service", e.impl.desc.id))
		}
		instance = e.instance
		return nil
	})
	return instance, err
}

func (r *Registry) dispose(ctx context.Context, e *entry) error {
	return e.init.Do(ctx, func(ctx context.Context) error {
		e.removed = true
		instance := e.instance
		e.instance = nil

		if c, ok := instance.(Closer); ok {
			if err := c.Close(); err != nil {
				return errors.Wrapf(err, "closing service %q failed", e.impl.desc.id)
			}
		}
		return nil
	})
}

func markVisited(visited map[*Registry]struct{}, r *Registry) map[*Registry]struct{} {
	if visited == nil {
		visited = map[*Registry]struct{}{}
	}
	visited[r] = struct{}{}
	return visited
}

type emitter struct {
	registry *Registry
	desc     *Descriptor
}

func (e emitter) Emit(event string, args ...any) error {
	if _, exists := e.desc.Event(event); !exists {
		return errors.Wrapf(ErrUnknownEvent, "service %q has no event %q", e.desc.id, event)
	}
	e.registry.events.Publish(eventsTopic, Event{
		Service: e.desc.id,
		Name:    event,
		Args:    args,
	})
	return nil
}
