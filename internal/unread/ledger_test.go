package unread

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"spark-client/internal/bus"
	"spark-client/internal/storage"
)

type fakeServer struct {
	mu    sync.Mutex
	calls []int
	err   error
}

func (f *fakeServer) MarkRead(_ context.Context, userID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID)
	return f.err
}

func (f *fakeServer) Calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

func newLedger(t *testing.T) (*Ledger, *storage.Memory, *fakeServer, *bus.Bus) {
	t.Helper()
	store := storage.NewMemory()
	srv := &fakeServer{}
	b := bus.New()
	lg := New(store, srv, b)
	require.NoError(t, lg.Load(context.Background()))
	t.Cleanup(lg.Close)
	return lg, store, srv, b
}

func TestLedger_RepeatedMessagesStayUnread(t *testing.T) {
	lg, _, _, _ := newLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, lg.MarkUnread(ctx, 42))
		require.True(t, lg.IsUnread(42))
	}
	require.Equal(t, 1, lg.Count())

	require.NoError(t, lg.MarkRead(ctx, 42))
	require.False(t, lg.IsUnread(42))
}

func TestLedger_ReadUnreadReadLeavesNothing(t *testing.T) {
	lg, store, srv, _ := newLedger(t)
	ctx := context.Background()

	require.NoError(t, lg.MarkRead(ctx, 7))
	require.NoError(t, lg.MarkUnread(ctx, 7))
	require.NoError(t, lg.MarkRead(ctx, 7))

	require.False(t, lg.IsUnread(7))
	raw, err := store.Get(ctx, storage.KeyUnreadUsers)
	require.NoError(t, err)
	require.JSONEq(t, `[]`, raw)

	lg.Wait()
	require.Equal(t, []int{7, 7}, srv.Calls())
}

func TestLedger_PersistsAndReloads(t *testing.T) {
	lg, store, _, _ := newLedger(t)
	ctx := context.Background()

	require.NoError(t, lg.MarkUnread(ctx, 3))
	require.NoError(t, lg.MarkUnread(ctx, 1))

	raw, err := store.Get(ctx, storage.KeyUnreadUsers)
	require.NoError(t, err)
	require.JSONEq(t, `[1,3]`, raw)

	again := New(store, nil, bus.New())
	require.NoError(t, again.Load(ctx))
	require.Equal(t, []int{1, 3}, again.List())
}

func TestLedger_LoadDiscardsUnreadableValue(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, storage.KeyUnreadUsers, `{not json`))

	lg := New(store, nil, bus.New())
	require.NoError(t, lg.Load(ctx))
	require.Zero(t, lg.Count())
}

func TestLedger_PublishesOnlyOnChange(t *testing.T) {
	lg, _, _, b := newLedger(t)
	ctx := context.Background()

	var got []bus.UnreadChanged
	bus.On(b, func(e bus.UnreadChanged) { got = append(got, e) })

	require.NoError(t, lg.MarkUnread(ctx, 5))
	require.NoError(t, lg.MarkUnread(ctx, 5))
	require.NoError(t, lg.MarkUnread(ctx, 6))
	require.NoError(t, lg.Remove(ctx, 5))

	require.Equal(t, []bus.UnreadChanged{
		{UserID: 5, Unread: true, Count: 1},
		{UserID: 6, Unread: true, Count: 2},
		{UserID: 5, Unread: false, Count: 1},
	}, got)
}

func TestLedger_ServerFailureIsSwallowed(t *testing.T) {
	store := storage.NewMemory()
	srv := &fakeServer{err: errors.New("boom")}
	lg := New(store, srv, bus.New())
	ctx := context.Background()

	require.NoError(t, lg.MarkUnread(ctx, 2))
	require.NoError(t, lg.MarkRead(ctx, 2))
	lg.Wait()

	require.False(t, lg.IsUnread(2))
	require.Equal(t, []int{2}, srv.Calls())
}

func TestLedger_ForgetsRemovedCounterpart(t *testing.T) {
	lg, _, srv, b := newLedger(t)
	ctx := context.Background()

	require.NoError(t, lg.MarkUnread(ctx, 11))
	b.Publish(bus.CounterpartRemoved{UserID: 11, Reason: bus.BlockedByPeer})

	require.False(t, lg.IsUnread(11))
	lg.Wait()
	require.Empty(t, srv.Calls())
}
