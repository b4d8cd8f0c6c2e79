// Package unread keeps the persisted set of counterparts with unseen
// messages. Local state is authoritative; the server mark-read call that
// accompanies MarkRead is advisory and its failures are only logged.
package unread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"spark-client/internal/bus"
	"spark-client/internal/logger"
	"spark-client/internal/storage"
)

const defaultSyncTimeout = 10 * time.Second

// MarkReader is the server side of a read receipt.
type MarkReader interface {
	MarkRead(ctx context.Context, userID int) error
}

type Ledger struct {
	store   storage.Store
	server  MarkReader
	bus     *bus.Bus
	log     *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	ids     map[int]struct{}
	unsub   func()
	pending sync.WaitGroup
}

type Option func(*Ledger)

func WithLogger(l *slog.Logger) Option {
	return func(lg *Ledger) { lg.log = logger.OrDefault(l) }
}

// WithSyncTimeout bounds each background mark-read request.
func WithSyncTimeout(d time.Duration) Option {
	return func(lg *Ledger) { lg.timeout = d }
}

// New returns an empty ledger. Call Load to restore the persisted set.
// The ledger drops counterparts announced on bus.CounterpartRemoved.
func New(store storage.Store, server MarkReader, b *bus.Bus, opts ...Option) *Ledger {
	lg := &Ledger{
		store:   store,
		server:  server,
		bus:     b,
		log:     slog.Default(),
		timeout: defaultSyncTimeout,
		ids:     make(map[int]struct{}),
	}
	for _, opt := range opts {
		opt(lg)
	}
	lg.unsub = bus.On(b, func(e bus.CounterpartRemoved) {
		if err := lg.Remove(context.Background(), e.UserID); err != nil {
			lg.log.Warn("unread ledger persist failed", "user_id", e.UserID, "err", err)
		}
	})
	return lg
}

// Load replaces the in-memory set with the persisted one. A missing key is
// an empty set. An unreadable value is discarded.
func (lg *Ledger) Load(ctx context.Context) error {
	raw, err := lg.store.Get(ctx, storage.KeyUnreadUsers)
	if errors.Is(err, storage.ErrNotFound) {
		raw = "[]"
	} else if err != nil {
		return fmt.Errorf("unread: load: %w", err)
	}

	var list []int
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		lg.log.Warn("unread ledger discarded unreadable value", "err", err)
		list = nil
	}

	lg.mu.Lock()
	lg.ids = make(map[int]struct{}, len(list))
	for _, id := range list {
		lg.ids[id] = struct{}{}
	}
	lg.mu.Unlock()
	return nil
}

// MarkUnread adds userID. Adding an id already present changes nothing.
func (lg *Ledger) MarkUnread(ctx context.Context, userID int) error {
	return lg.mutate(ctx, userID, true)
}

// MarkRead removes userID and tells the server in the background.
func (lg *Ledger) MarkRead(ctx context.Context, userID int) error {
	err := lg.mutate(ctx, userID, false)
	lg.notifyServer(userID)
	return err
}

// Remove drops userID without a server read receipt.
func (lg *Ledger) Remove(ctx context.Context, userID int) error {
	return lg.mutate(ctx, userID, false)
}

func (lg *Ledger) IsUnread(userID int) bool {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	_, ok := lg.ids[userID]
	return ok
}

func (lg *Ledger) Count() int {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	return len(lg.ids)
}

// List returns the unread ids in ascending order.
func (lg *Ledger) List() []int {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	return lg.sortedLocked()
}

// Wait blocks until every background mark-read request has finished.
func (lg *Ledger) Wait() { lg.pending.Wait() }

// Close stops listening for removals and waits for background requests.
func (lg *Ledger) Close() {
	if lg.unsub != nil {
		lg.unsub()
	}
	lg.Wait()
}

func (lg *Ledger) sortedLocked() []int {
	out := make([]int, 0, len(lg.ids))
	for id := range lg.ids {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func (lg *Ledger) mutate(ctx context.Context, userID int, unread bool) error {
	lg.mu.Lock()
	_, present := lg.ids[userID]
	if present == unread {
		lg.mu.Unlock()
		return nil
	}
	if unread {
		lg.ids[userID] = struct{}{}
	} else {
		delete(lg.ids, userID)
	}
	count := len(lg.ids)
	raw, err := json.Marshal(lg.sortedLocked())
	if err == nil {
		err = lg.store.Set(ctx, storage.KeyUnreadUsers, string(raw))
	}
	lg.mu.Unlock()

	lg.bus.Publish(bus.UnreadChanged{UserID: userID, Unread: unread, Count: count})
	if err != nil {
		return fmt.Errorf("unread: persist: %w", err)
	}
	return nil
}

func (lg *Ledger) notifyServer(userID int) {
	if lg.server == nil {
		return
	}
	lg.pending.Add(1)
	go func() {
		defer lg.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), lg.timeout)
		defer cancel()
		if err := lg.server.MarkRead(ctx, userID); err != nil {
			lg.log.Warn("mark-read sync failed", "user_id", userID, "err", err)
		}
	}()
}
