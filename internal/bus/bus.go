// Package bus is the in-process event bus that views subscribe to instead
// of owning the push channel. Delivery is synchronous and in publish order.
package bus

import "sync"

type Topic string

type Event interface {
	Topic() Topic
}

type Handler func(Event)

type subscription struct {
	id int
	h  Handler
}

type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]subscription
	next int
}

func New() *Bus {
	return &Bus{subs: make(map[Topic][]subscription)}
}

// Subscribe registers h for topic. The returned func removes it and is
// safe to call more than once.
func (b *Bus) Subscribe(topic Topic, h Handler) func() {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[topic] = append(b.subs[topic], subscription{id: id, h: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[topic]
			for i, s := range list {
				if s.id == id {
					b.subs[topic] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish runs every handler of e's topic on the calling goroutine, in
// subscription order. Handlers may publish or subscribe themselves.
// Publishing on a nil Bus is a no-op.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	list := b.subs[e.Topic()]
	handlers := make([]Handler, len(list))
	for i, s := range list {
		handlers[i] = s.h
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

// On subscribes a handler typed to a single event type.
func On[T Event](b *Bus, h func(T)) func() {
	var zero T
	return b.Subscribe(zero.Topic(), func(e Event) {
		if ev, ok := e.(T); ok {
			h(ev)
		}
	})
}
