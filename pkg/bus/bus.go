// Package bus delivers typed events to interested subscribers. Components
// publish on a Topic and subscribers register a callback for the topics they
// care about, so there is one registry instead of a listener list per event
// kind.
package bus

import "sync"

// Topic names a stream of events of type T.
type Topic[T any] struct {
	name string
}

// NewTopic declares a topic. Topics with the same name share subscribers, so
// names should be unique per event type.
func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{name: name}
}

// Name returns the topic name.
func (t Topic[T]) Name() string {
	return t.name
}

type subscriber struct {
	id uint64
	fn func(any)
}

// Bus is a synchronous publish/subscribe registry. The zero value is not
// usable; construct one with New. A nil *Bus drops every event, which lets
// components treat the bus as optional.
type Bus struct {
	mu   sync.RWMutex
	next uint64
	subs map[string][]subscriber
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscriber)}
}

// Subscribe registers fn for events published on t. Callbacks run on the
// publisher's goroutine in subscription order. The returned function removes
// the subscription and is safe to call more than once.
func Subscribe[T any](b *Bus, t Topic[T], fn func(T)) (unsubscribe func()) {
	if b == nil || fn == nil {
		return func() {}
	}

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[t.name] = append(b.subs[t.name], subscriber{
		id: id,
		fn: func(ev any) { fn(ev.(T)) },
	})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(t.name, id) })
	}
}

// Publish delivers ev to every subscriber of t.
func Publish[T any](b *Bus, t Topic[T], ev T) {
	if b == nil {
		return
	}

	b.mu.RLock()
	subs := append([]subscriber(nil), b.subs[t.name]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(ev)
	}
}

// Subscribers reports how many callbacks are registered for the named topic.
func (b *Bus) Subscribers(topic string) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func (b *Bus) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, s := range subs {
		if s.id == id {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}
