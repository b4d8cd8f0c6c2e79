package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"spark-client/internal/apperr"
	"spark-client/internal/bus"
	"spark-client/internal/logger"
)

const defaultInterstitial = 3 * time.Second

// Backend is the subset of the API the discovery queue needs.
type Backend interface {
	Discovery(ctx context.Context) ([]Candidate, error)
	Swipe(ctx context.Context, req SwipeRequest) (*SwipeResponse, error)
	UndoSwipe(ctx context.Context) (*UndoResponse, error)
}

// Snapshot is a read-only view of the queue.
type Snapshot struct {
	Len          int  `json:"len"`
	Cursor       int  `json:"cursor"`
	CurrentID    int  `json:"current_id,omitempty"`
	ImageIndex   int  `json:"image_index"`
	CanUndo      bool `json:"can_undo"`
	Interstitial bool `json:"interstitial"`
	Exhausted    bool `json:"exhausted"`
}

// Queue is the discovery feed: candidates, a cursor that only moves forward
// except for one confirmed undo, and the current candidate's image cursor.
type Queue struct {
	backend      Backend
	bus          *bus.Bus
	log          *slog.Logger
	interstitial time.Duration

	// op serialises user actions that talk to the backend.
	op sync.Mutex

	mu         sync.Mutex
	candidates []Candidate
	cursor     int
	image      int
	canUndo    bool
	matched    *Candidate
	timer      *time.Timer
	drag       dragState
}

type Option func(*Queue)

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.log = logger.OrDefault(l) }
}

// WithInterstitial sets how long a match is presented before the queue
// accepts swipes again.
func WithInterstitial(d time.Duration) Option {
	return func(q *Queue) { q.interstitial = d }
}

func NewQueue(backend Backend, b *bus.Bus, opts ...Option) *Queue {
	q := &Queue{
		backend:      backend,
		bus:          b,
		log:          slog.Default(),
		interstitial: defaultInterstitial,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Load replaces the queue with a fresh batch and resets every cursor.
func (q *Queue) Load(ctx context.Context) error {
	q.op.Lock()
	defer q.op.Unlock()

	list, err := q.backend.Discovery(ctx)
	if err != nil {
		q.log.Warn("discovery fetch failed", "err", err)
		return fmt.Errorf("discovery: load: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.candidates = list
	q.cursor = 0
	q.image = 0
	q.canUndo = false
	q.drag = dragState{}
	return nil
}

// Current is the candidate under the cursor.
func (q *Queue) Current() (Candidate, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentLocked()
}

// Matched is the candidate shown by the match interstitial, if one is up.
func (q *Queue) Matched() (Candidate, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.matched == nil {
		return Candidate{}, false
	}
	return *q.matched, true
}

func (q *Queue) Cursor() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cursor
}

func (q *Queue) CanUndo() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.canUndo
}

func (q *Queue) ImageIndex() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.image
}

func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Snapshot{
		Len:          len(q.candidates),
		Cursor:       q.cursor,
		ImageIndex:   q.image,
		CanUndo:      q.canUndo,
		Interstitial: q.matched != nil,
		Exhausted:    q.cursor >= len(q.candidates),
	}
	if c, ok := q.currentLocked(); ok {
		s.CurrentID = c.ID
	}
	return s
}

// Swipe records like or dislike for the current candidate. The cursor
// advances before the backend answers and stays advanced if the request
// fails; a failed swipe is logged and cannot be undone. A match holds the
// matched candidate on screen for the interstitial period, during which
// further swipes are rejected.
func (q *Queue) Swipe(ctx context.Context, like bool) (bool, error) {
	q.op.Lock()
	defer q.op.Unlock()

	q.mu.Lock()
	if q.matched != nil {
		q.mu.Unlock()
		return false, apperr.Reject("discovery: swipe", "match interstitial is showing")
	}
	target, ok := q.currentLocked()
	if !ok {
		q.mu.Unlock()
		return false, apperr.Reject("discovery: swipe", "no candidate to swipe")
	}
	q.advanceLocked(1)
	q.canUndo = false
	q.mu.Unlock()

	resp, err := q.backend.Swipe(ctx, SwipeRequest{LikedID: target.ID, IsLike: like})
	if err != nil {
		q.log.Warn("swipe not recorded", "candidate_id", target.ID, "like", like, "err", err)
		return false, fmt.Errorf("discovery: swipe: %w", err)
	}

	q.mu.Lock()
	q.canUndo = true
	if resp.IsMatch {
		q.showMatchLocked(target)
	}
	q.mu.Unlock()
	return resp.IsMatch, nil
}

// Undo reverses the most recent swipe. It is allowed once per swipe; the
// permission is spent by the attempt whether the backend confirms or not.
// The cursor only moves back when the backend confirms.
func (q *Queue) Undo(ctx context.Context) error {
	q.op.Lock()
	defer q.op.Unlock()

	q.mu.Lock()
	if q.matched != nil {
		q.mu.Unlock()
		return apperr.Reject("discovery: undo", "match interstitial is showing")
	}
	allowed := q.canUndo && q.cursor > 0
	q.canUndo = false
	expected := 0
	if allowed {
		expected = q.candidates[q.cursor-1].ID
	}
	q.mu.Unlock()

	if !allowed {
		return apperr.Reject("discovery: undo", "nothing to undo")
	}

	resp, err := q.backend.UndoSwipe(ctx)
	if err != nil {
		q.log.Warn("undo failed", "err", err)
		q.bus.Publish(bus.Notice{Level: bus.NoticeError, Text: "Could not undo swipe"})
		return fmt.Errorf("discovery: undo: %w", err)
	}
	if resp.UndoneUserID != 0 && resp.UndoneUserID != expected {
		q.log.Warn("backend undid a different swipe", "expected", expected, "undone", resp.UndoneUserID)
	}

	q.mu.Lock()
	q.advanceLocked(-1)
	q.mu.Unlock()
	q.bus.Publish(bus.Notice{Level: bus.NoticeSuccess, Text: "Swipe undone"})
	return nil
}

// NextImage moves to the next photo of the current candidate, if any.
func (q *Queue) NextImage() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stepImageLocked(1)
}

// PrevImage moves to the previous photo of the current candidate, if any.
func (q *Queue) PrevImage() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stepImageLocked(-1)
}

// Close cancels a pending interstitial timer.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

func (q *Queue) currentLocked() (Candidate, bool) {
	if q.cursor < 0 || q.cursor >= len(q.candidates) {
		return Candidate{}, false
	}
	return q.candidates[q.cursor], true
}

func (q *Queue) advanceLocked(delta int) {
	q.cursor += delta
	if q.cursor < 0 {
		q.cursor = 0
	}
	q.image = 0
	q.drag = dragState{}
}

func (q *Queue) stepImageLocked(delta int) bool {
	c, ok := q.currentLocked()
	if !ok {
		return false
	}
	next := q.image + delta
	if next < 0 || next > len(c.Images)-1 {
		return false
	}
	q.image = next
	return true
}

func (q *Queue) showMatchLocked(c Candidate) {
	q.matched = &c
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(q.interstitial, func() {
		q.mu.Lock()
		q.matched = nil
		q.timer = nil
		q.mu.Unlock()
	})
}
