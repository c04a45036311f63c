// Package service implements registration, invocation and event fan-out of services exposed
// between two terminals.
package service

import (
	"slices"
	"time"
)

// APIOptions are the options of a single API.
type APIOptions struct {
	// Timeout of the call. Zero means the client default.
	Timeout time.Duration
	// NoReturn marks fire-and-forget API. Peer does not reply to it.
	NoReturn bool

	// EncodeArgs is applied by the caller to arguments before sending them.
	EncodeArgs func(args []any) ([]any, error)
	// DecodeArgs is applied by the callee to received arguments.
	DecodeArgs func(args []any) ([]any, error)
	// EncodeResult is applied by the callee to the result before sending it.
	EncodeResult func(result any) (any, error)
	// DecodeResult is applied by the caller to received result.
	DecodeResult func(result any) (any, error)
}

// EventOptions are the options of a single event.
type EventOptions struct {
	// EncodeArgs is applied to event arguments before they are forwarded to the peer.
	EncodeArgs func(args []any) ([]any, error)
	// DecodeArgs is applied to event arguments received from the peer.
	DecodeArgs func(args []any) ([]any, error)
}

// DescriptorOption configures descriptor.
type DescriptorOption func(d *Descriptor)

// WithAPI declares API.
func WithAPI(name string, opts APIOptions) DescriptorOption {
	return func(d *Descriptor) {
		if _, exists := d.apis[name]; !exists {
			d.apiNames = append(d.apiNames, name)
		}
		d.apis[name] = opts
	}
}

// WithEvent declares event.
func WithEvent(name string, opts EventOptions) DescriptorOption {
	return func(d *Descriptor) {
		if _, exists := d.events[name]; !exists {
			d.eventNames = append(d.eventNames, name)
		}
		d.events[name] = opts
	}
}

// WithACL attaches ACL value passed to the ACL resolver.
func WithACL(acl any) DescriptorOption {
	return func(d *Descriptor) {
		d.acl = acl
	}
}

// WithoutVersionCheck disables version check done by clients.
func WithoutVersionCheck() DescriptorOption {
	return func(d *Descriptor) {
		d.noVersionCheck = true
	}
}

// WithoutObserve excludes service calls from observers.
func WithoutObserve() DescriptorOption {
	return func(d *Descriptor) {
		d.noObserve = true
	}
}

// Descriptor describes service contract. It is immutable once created.
type Descriptor struct {
	id             string
	version        string
	acl            any
	apis           map[string]APIOptions
	apiNames       []string
	events         map[string]EventOptions
	eventNames     []string
	noVersionCheck bool
	noObserve      bool
}

// NewDescriptor creates service descriptor.
func NewDescriptor(id, version string, opts ...DescriptorOption) *Descriptor {
	d := &Descriptor{
		id:      id,
		version: version,
		apis:    map[string]APIOptions{},
		events:  map[string]EventOptions{},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// ID returns service ID.
func (d *Descriptor) ID() string {
	return d.id
}

// Version returns service version.
func (d *Descriptor) Version() string {
	return d.version
}

// ACL returns the ACL value.
func (d *Descriptor) ACL() any {
	return d.acl
}

// API returns options of the API.
func (d *Descriptor) API(name string) (APIOptions, bool) {
	opts, exists := d.apis[name]
	return opts, exists
}

// APIs returns names of declared APIs in declaration order.
func (d *Descriptor) APIs() []string {
	return slices.Clone(d.apiNames)
}

// Event returns options of the event.
func (d *Descriptor) Event(name string) (EventOptions, bool) {
	opts, exists := d.events[name]
	return opts, exists
}

// Events returns names of declared events in declaration order.
func (d *Descriptor) Events() []string {
	return slices.Clone(d.eventNames)
}

// VersionCheck tells if clients verify the version of peer service.
func (d *Descriptor) VersionCheck() bool {
	return !d.noVersionCheck
}

// Observed tells if calls are reported to observers.
func (d *Descriptor) Observed() bool {
	return !d.noObserve
}
