package matches

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"spark-client/internal/bus"
	"spark-client/internal/jsontime"
	"spark-client/internal/logger"
	"spark-client/internal/storage"
)

// Source fetches the current user's matches.
type Source interface {
	Matches(ctx context.Context) ([]Match, error)
}

// Service caches the match list and owns the "new match" indicator.
type Service struct {
	source Source
	store  storage.Store
	bus    *bus.Bus
	log    *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	list   []Match
	hasNew bool
	unsub  func()
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = logger.OrDefault(l) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(src Source, store storage.Store, b *bus.Bus, opts ...Option) *Service {
	s := &Service{
		source: src,
		store:  store,
		bus:    b,
		log:    slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.unsub = bus.On(b, func(e bus.CounterpartRemoved) { s.Remove(e.UserID) })
	return s
}

// Refresh reloads the list and recomputes the indicator: with no recorded
// visit any match counts as new, otherwise only matches created after it.
func (s *Service) Refresh(ctx context.Context) error {
	list, err := s.source.Matches(ctx)
	if err != nil {
		return fmt.Errorf("matches: refresh: %w", err)
	}

	lastView, err := s.lastView(ctx)
	if err != nil {
		return err
	}
	hasNew := false
	for _, m := range list {
		if lastView.IsZero() || m.CreatedAt.After(lastView) {
			hasNew = true
			break
		}
	}

	s.mu.Lock()
	s.list = list
	s.mu.Unlock()
	s.setIndicator(hasNew)
	return nil
}

// MarkViewed records that the Matches view was opened now and clears the
// indicator.
func (s *Service) MarkViewed(ctx context.Context) error {
	s.setIndicator(false)
	stamp := s.now().UTC().Format(time.RFC3339Nano)
	if err := s.store.Set(ctx, storage.KeyLastMatchesView, stamp); err != nil {
		return fmt.Errorf("matches: record view: %w", err)
	}
	return nil
}

// RaiseNew turns the indicator on without refetching.
func (s *Service) RaiseNew() { s.setIndicator(true) }

func (s *Service) HasNew() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasNew
}

func (s *Service) List() []Match {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Match(nil), s.list...)
}

func (s *Service) Get(userID int) (Match, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.list {
		if m.UserID == userID {
			return m, true
		}
	}
	return Match{}, false
}

// Remove forgets every match with userID.
func (s *Service) Remove(userID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.list[:0]
	for _, m := range s.list {
		if m.UserID != userID {
			kept = append(kept, m)
		}
	}
	s.list = kept
}

func (s *Service) Close() {
	if s.unsub != nil {
		s.unsub()
	}
}

func (s *Service) lastView(ctx context.Context) (time.Time, error) {
	raw, err := s.store.Get(ctx, storage.KeyLastMatchesView)
	if errors.Is(err, storage.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("matches: read last view: %w", err)
	}
	t, err := jsontime.Parse(raw)
	if err != nil {
		s.log.Warn("ignoring unreadable lastMatchesView", "value", raw)
		return time.Time{}, nil
	}
	return t.Time, nil
}

func (s *Service) setIndicator(v bool) {
	s.mu.Lock()
	changed := s.hasNew != v
	s.hasNew = v
	s.mu.Unlock()
	if changed {
		s.bus.Publish(bus.MatchIndicator{HasNew: v})
	}
}
