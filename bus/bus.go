// Package bus implements typed publish/subscribe keyed by topic name.
package bus

import (
	"sync"
)

// Token identifies subscription.
type Token uint64

type subscriber[T any] struct {
	token Token
	fn    func(T)
}

// Bus delivers published values to subscribers of the topic in subscription order.
type Bus[T any] struct {
	mu     sync.RWMutex
	last   Token
	topics map[string][]subscriber[T]
	index  map[Token]string
}

// New creates new bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{
		topics: map[string][]subscriber[T]{},
		index:  map[Token]string{},
	}
}

// Subscribe registers callback for topic.
func (b *Bus[T]) Subscribe(topic string, fn func(T)) Token {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last++
	b.topics[topic] = append(b.topics[topic], subscriber[T]{token: b.last, fn: fn})
	b.index[b.last] = topic
	return b.last
}

// Unsubscribe removes subscription. It returns false if token is unknown.
func (b *Bus[T]) Unsubscribe(token Token) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	topic, exists := b.index[token]
	if !exists {
		return false
	}
	delete(b.index, token)

	subs := b.topics[topic]
	for i, s := range subs {
		if s.token == token {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.topics, topic)
	} else {
		b.topics[topic] = subs
	}
	return true
}

// Publish calls subscribers of the topic synchronously and returns their number.
// Callbacks run without the lock held so they may subscribe, unsubscribe or publish.
func (b *Bus[T]) Publish(topic string, v T) int {
	b.mu.RLock()
	subs := b.topics[topic]
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(v)
	}
	return len(subs)
}

// Len returns number of subscribers of the topic.
func (b *Bus[T]) Len(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.topics[topic])
}
