package discovery

import (
	"context"
	"math"
)

const (
	// SwipeThreshold is the horizontal drag offset past which a release swipes.
	SwipeThreshold = 100.0
	// TapSlop is the largest drag offset at which a tap still counts.
	TapSlop = 5.0
)

type dragState struct {
	active bool
	offset float64
}

// DragStart begins a horizontal drag of the current card.
func (q *Queue) DragStart() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.drag = dragState{active: true}
}

// DragMove reports the drag's horizontal offset from its origin.
func (q *Queue) DragMove(offset float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.drag.active {
		q.drag.offset = offset
	}
}

// DragEnd releases the card. Past +SwipeThreshold it likes, past
// -SwipeThreshold it dislikes, otherwise the card snaps back. It reports
// whether a swipe was attempted and, if so, whether it matched.
func (q *Queue) DragEnd(ctx context.Context) (swiped, matched bool, err error) {
	q.mu.Lock()
	offset := q.drag.offset
	q.drag = dragState{}
	q.mu.Unlock()

	switch {
	case offset > SwipeThreshold:
		matched, err = q.Swipe(ctx, true)
	case offset < -SwipeThreshold:
		matched, err = q.Swipe(ctx, false)
	default:
		return false, false, nil
	}
	return true, matched, err
}

// Tap handles a tap at x on a card of the given width: the right half shows
// the next photo, the left half the previous one. Taps are ignored while a
// drag has moved the card, while the match interstitial shows, and for
// candidates with at most one photo.
func (q *Queue) Tap(x, width float64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.drag.active && math.Abs(q.drag.offset) > TapSlop {
		return false
	}
	if q.matched != nil {
		return false
	}
	c, ok := q.currentLocked()
	if !ok || len(c.Images) <= 1 {
		return false
	}
	if x > width/2 {
		return q.stepImageLocked(1)
	}
	return q.stepImageLocked(-1)
}
