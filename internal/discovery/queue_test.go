package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"spark-client/internal/apperr"
	"spark-client/internal/bus"
)

type fakeBackend struct {
	mu        sync.Mutex
	list      []Candidate
	matchIDs  map[int]bool
	swipeErr  error
	undoErr   error
	swipes    []SwipeRequest
	undoCalls int
}

func (f *fakeBackend) Discovery(context.Context) ([]Candidate, error) {
	return append([]Candidate(nil), f.list...), nil
}

func (f *fakeBackend) Swipe(_ context.Context, req SwipeRequest) (*SwipeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.swipeErr != nil {
		return nil, f.swipeErr
	}
	f.swipes = append(f.swipes, req)
	return &SwipeResponse{Status: "success", IsMatch: req.IsLike && f.matchIDs[req.LikedID]}, nil
}

func (f *fakeBackend) UndoSwipe(context.Context) (*UndoResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.undoCalls++
	if f.undoErr != nil {
		return nil, f.undoErr
	}
	last := f.swipes[len(f.swipes)-1]
	f.swipes = f.swipes[:len(f.swipes)-1]
	return &UndoResponse{Status: "success", UndoneUserID: last.LikedID}, nil
}

func images(n int) []CandidateImage {
	out := make([]CandidateImage, n)
	for i := range out {
		out[i] = CandidateImage{URL: "https://img.example/" + string(rune('a'+i)), Position: i}
	}
	return out
}

func newQueue(t *testing.T, opts ...Option) (*Queue, *fakeBackend, *bus.Bus) {
	t.Helper()
	backend := &fakeBackend{
		list: []Candidate{
			{ID: 10, FullName: "A", Images: images(3)},
			{ID: 11, FullName: "B", Images: images(1)},
			{ID: 12, FullName: "C"},
		},
		matchIDs: map[int]bool{},
	}
	b := bus.New()
	q := NewQueue(backend, b, opts...)
	require.NoError(t, q.Load(context.Background()))
	t.Cleanup(q.Close)
	return q, backend, b
}

func TestSwipeThenConfirmedUndo(t *testing.T) {
	q, backend, b := newQueue(t)
	ctx := context.Background()
	var notices []bus.Notice
	bus.On(b, func(e bus.Notice) { notices = append(notices, e) })

	matched, err := q.Swipe(ctx, true)
	require.NoError(t, err)
	require.False(t, matched)
	require.Equal(t, 1, q.Cursor())
	require.True(t, q.CanUndo())
	require.Equal(t, []SwipeRequest{{LikedID: 10, IsLike: true}}, backend.swipes)

	require.NoError(t, q.Undo(ctx))
	require.Equal(t, 0, q.Cursor())
	require.False(t, q.CanUndo())
	require.Equal(t, []bus.Notice{{Level: bus.NoticeSuccess, Text: "Swipe undone"}}, notices)

	cur, ok := q.Current()
	require.True(t, ok)
	require.Equal(t, 10, cur.ID)
}

func TestSwipeAdvancesEvenWhenBackendFails(t *testing.T) {
	q, backend, _ := newQueue(t)
	backend.swipeErr = apperr.Network("POST /users/swipe", errors.New("connection refused"))

	_, err := q.Swipe(context.Background(), false)
	require.Error(t, err)
	require.True(t, apperr.IsNetwork(err))
	require.Equal(t, 1, q.Cursor())
	require.False(t, q.CanUndo())

	err = q.Undo(context.Background())
	require.True(t, apperr.IsRejected(err))
	require.Equal(t, 1, q.Cursor())
	require.Zero(t, backend.undoCalls)
}

func TestUndoRejectedByBackendKeepsCursor(t *testing.T) {
	q, backend, b := newQueue(t)
	ctx := context.Background()
	var notices []bus.Notice
	bus.On(b, func(e bus.Notice) { notices = append(notices, e) })

	_, err := q.Swipe(ctx, true)
	require.NoError(t, err)
	_, err = q.Swipe(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 2, q.Cursor())

	backend.undoErr = errors.New("no swipe history")
	require.Error(t, q.Undo(ctx))
	require.Equal(t, 2, q.Cursor())
	require.False(t, q.CanUndo())
	require.Equal(t, []bus.Notice{{Level: bus.NoticeError, Text: "Could not undo swipe"}}, notices)

	backend.undoErr = nil
	require.True(t, apperr.IsRejected(q.Undo(ctx)))
	require.Equal(t, 1, backend.undoCalls)
}

func TestUndoOnlyOncePerSwipe(t *testing.T) {
	q, _, _ := newQueue(t)
	ctx := context.Background()

	_, err := q.Swipe(ctx, true)
	require.NoError(t, err)
	_, err = q.Swipe(ctx, true)
	require.NoError(t, err)

	require.NoError(t, q.Undo(ctx))
	require.Equal(t, 1, q.Cursor())
	require.True(t, apperr.IsRejected(q.Undo(ctx)))
	require.Equal(t, 1, q.Cursor())
}

func TestUndoBeforeAnySwipe(t *testing.T) {
	q, backend, _ := newQueue(t)
	require.True(t, apperr.IsRejected(q.Undo(context.Background())))
	require.Zero(t, backend.undoCalls)
}

func TestMatchInterstitialBlocksSwipes(t *testing.T) {
	q, backend, _ := newQueue(t, WithInterstitial(30*time.Millisecond))
	backend.matchIDs[10] = true
	ctx := context.Background()

	matched, err := q.Swipe(ctx, true)
	require.NoError(t, err)
	require.True(t, matched)
	require.Equal(t, 1, q.Cursor())

	m, ok := q.Matched()
	require.True(t, ok)
	require.Equal(t, 10, m.ID)
	require.True(t, q.Snapshot().Interstitial)

	_, err = q.Swipe(ctx, true)
	require.True(t, apperr.IsRejected(err))
	require.Equal(t, 1, q.Cursor())
	require.False(t, q.Tap(90, 100))

	require.Eventually(t, func() bool {
		_, showing := q.Matched()
		return !showing
	}, time.Second, 5*time.Millisecond)

	_, err = q.Swipe(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 2, q.Cursor())
}

func TestSwipePastEnd(t *testing.T) {
	q, _, _ := newQueue(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := q.Swipe(ctx, false)
		require.NoError(t, err)
	}
	require.True(t, q.Snapshot().Exhausted)
	_, err := q.Swipe(ctx, false)
	require.True(t, apperr.IsRejected(err))
	require.Equal(t, 3, q.Cursor())
}

func TestImageCursor(t *testing.T) {
	q, _, _ := newQueue(t)

	require.False(t, q.PrevImage())
	require.True(t, q.Tap(80, 100))
	require.True(t, q.Tap(80, 100))
	require.False(t, q.Tap(80, 100))
	require.Equal(t, 2, q.ImageIndex())

	require.True(t, q.Tap(10, 100))
	require.Equal(t, 1, q.ImageIndex())

	_, err := q.Swipe(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 0, q.ImageIndex())

	require.False(t, q.Tap(80, 100), "single photo")
	require.False(t, q.NextImage())
}

func TestUndoResetsImageCursor(t *testing.T) {
	q, _, _ := newQueue(t)
	ctx := context.Background()
	_, err := q.Swipe(ctx, true)
	require.NoError(t, err)
	require.NoError(t, q.Undo(ctx))

	require.True(t, q.NextImage())
	require.Equal(t, 1, q.ImageIndex())
	_, err = q.Swipe(ctx, true)
	require.NoError(t, err)
	require.NoError(t, q.Undo(ctx))
	require.Equal(t, 0, q.ImageIndex())
}

func TestDragGestures(t *testing.T) {
	q, backend, _ := newQueue(t)
	ctx := context.Background()

	q.DragStart()
	q.DragMove(40)
	require.False(t, q.Tap(80, 100), "tap during drag")
	swiped, _, err := q.DragEnd(ctx)
	require.NoError(t, err)
	require.False(t, swiped)
	require.Equal(t, 0, q.Cursor())

	q.DragStart()
	q.DragMove(3)
	require.True(t, q.Tap(80, 100), "small movement still taps")
	q.DragMove(101)
	swiped, _, err = q.DragEnd(ctx)
	require.NoError(t, err)
	require.True(t, swiped)

	q.DragStart()
	q.DragMove(-150)
	swiped, _, err = q.DragEnd(ctx)
	require.NoError(t, err)
	require.True(t, swiped)

	require.Equal(t, 2, q.Cursor())
	require.Equal(t, []SwipeRequest{{LikedID: 10, IsLike: true}, {LikedID: 11, IsLike: false}}, backend.swipes)
}

func TestLoadResetsState(t *testing.T) {
	q, _, _ := newQueue(t)
	ctx := context.Background()
	_, err := q.Swipe(ctx, true)
	require.NoError(t, err)

	require.NoError(t, q.Load(ctx))
	s := q.Snapshot()
	require.Equal(t, Snapshot{Len: 3, Cursor: 0, CurrentID: 10}, s)
}
