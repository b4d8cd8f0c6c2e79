// Package view tracks which top-level view has focus. The dispatcher asks
// it whether the chats or matches view is on screen.
package view

import (
	"sync"

	"spark-client/internal/bus"
)

type View string

const (
	None      View = ""
	Discovery View = "discovery"
	Matches   View = "matches"
	Chats     View = "chats"
	Profile   View = "profile"
)

type Tracker struct {
	mu      sync.RWMutex
	current View
	bus     *bus.Bus
}

func NewTracker(b *bus.Bus) *Tracker {
	return &Tracker{bus: b}
}

func (t *Tracker) Current() View {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

func (t *Tracker) IsFocused(v View) bool {
	return t.Current() == v
}

// Focus switches to v and publishes ViewChanged if the view changed.
// It reports the previous view.
func (t *Tracker) Focus(v View) View {
	t.mu.Lock()
	prev := t.current
	t.current = v
	t.mu.Unlock()

	if prev != v {
		t.bus.Publish(bus.ViewChanged{From: string(prev), To: string(v)})
	}
	return prev
}
