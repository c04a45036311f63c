package medium

import (
	"github.com/outofforest/rpckit/bus"
)

// EventTarget dispatches named events synchronously, like custom DOM events.
type EventTarget struct {
	bus *bus.Bus[any]
}

// NewEventTarget creates new event target.
func NewEventTarget() *EventTarget {
	return &EventTarget{bus: bus.New[any]()}
}

// Dispatch delivers copy of the detail to listeners of the event before returning.
func (t *EventTarget) Dispatch(event string, detail any) error {
	if _, ok := detail.(string); !ok {
		c, err := Clone(detail)
		if err != nil {
			return err
		}
		detail = c
	}
	t.bus.Publish(event, detail)
	return nil
}

// AddListener attaches listener of the event.
func (t *EventTarget) AddListener(event string, fn func(detail any)) func() {
	token := t.bus.Subscribe(event, fn)
	return func() {
		t.bus.Unsubscribe(token)
	}
}

// Listeners returns number of listeners attached to the event.
func (t *EventTarget) Listeners(event string) int {
	return t.bus.Len(event)
}

// Window returns view of the target bound to one event name.
func (t *EventTarget) Window(event string) Window {
	return eventWindow{target: t, event: event}
}

type eventWindow struct {
	target *EventTarget
	event  string
}

func (w eventWindow) PostMessage(v any) error {
	return w.target.Dispatch(w.event, v)
}

func (w eventWindow) Listen(fn func(v any)) func() {
	return w.target.AddListener(w.event, fn)
}
