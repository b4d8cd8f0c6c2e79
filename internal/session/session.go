// Package session owns the authenticated lifetime of the client: it
// restores or obtains a credential, builds the per-user caches, and keeps
// exactly one push channel open while a user is signed in.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"spark-client/internal/apperr"
	"spark-client/internal/bus"
	"spark-client/internal/chat"
	"spark-client/internal/discovery"
	"spark-client/internal/logger"
	"spark-client/internal/matches"
	"spark-client/internal/metrics"
	"spark-client/internal/middleware"
	"spark-client/internal/push"
	"spark-client/internal/realtime"
	"spark-client/internal/storage"
	"spark-client/internal/unread"
	"spark-client/internal/user"
	"spark-client/internal/view"
)

const locationTimeout = 15 * time.Second

var ErrUnauthenticated = errors.New("session: not signed in")

// Backend is every backend call the session and its caches make.
type Backend interface {
	user.AuthBackend
	user.ProfileBackend
	discovery.Backend
	chat.Backend
	unread.MarkReader
}

// LocationProvider reports the device position for the background
// location sync.
type LocationProvider interface {
	Location(ctx context.Context) (user.Location, error)
}

// StaticLocation always reports the same position.
type StaticLocation user.Location

func (s StaticLocation) Location(context.Context) (user.Location, error) {
	return user.Location(s), nil
}

type Config struct {
	// WSURL is the push endpoint base; the channel dials WSURL/chat/ws/{id}.
	WSURL             string
	Reconnect         push.Policy
	MatchInterstitial time.Duration
	Dialer            *websocket.Dialer
}

type Deps struct {
	Backend     Backend
	Credentials *storage.CredentialStore
	Tokens      *middleware.TokenHolder
	Store       storage.Store
	Bus         *bus.Bus
	Location    LocationProvider
	Logger      *slog.Logger
	Metrics     metrics.Recorder
}

// live is the state that exists only while a user is signed in.
type live struct {
	user       user.User
	chat       *chat.Service
	matches    *matches.Service
	discovery  *discovery.Queue
	dispatcher *realtime.Dispatcher
	push       *push.Supervisor
}

type Session struct {
	cfg      Config
	backend  Backend
	creds    *storage.CredentialStore
	tokens   *middleware.TokenHolder
	store    storage.Store
	bus      *bus.Bus
	location LocationProvider
	log      *slog.Logger
	metrics  metrics.Recorder

	Auth    *user.Service
	Profile *user.ProfileService
	Views   *view.Tracker
	Ledger  *unread.Ledger

	mu   sync.Mutex
	live *live
	bg   sync.WaitGroup
}

func New(cfg Config, deps Deps) (*Session, error) {
	switch {
	case deps.Backend == nil:
		return nil, errors.New("session: backend is required")
	case deps.Credentials == nil:
		return nil, errors.New("session: credential store is required")
	case deps.Store == nil:
		return nil, errors.New("session: state store is required")
	}
	if cfg.WSURL == "" {
		return nil, errors.New("session: push URL is required")
	}
	tokens := deps.Tokens
	if tokens == nil {
		tokens = &middleware.TokenHolder{}
	}
	b := deps.Bus
	if b == nil {
		b = bus.New()
	}
	log := logger.OrDefault(deps.Logger)

	s := &Session{
		cfg:      cfg,
		backend:  deps.Backend,
		creds:    deps.Credentials,
		tokens:   tokens,
		store:    deps.Store,
		bus:      b,
		location: deps.Location,
		log:      log,
		metrics:  metrics.OrNop(deps.Metrics),
		Auth:     user.NewService(deps.Backend, log),
		Profile:  user.NewProfileService(deps.Backend, b, log),
		Views:    view.NewTracker(b),
		Ledger:   unread.New(deps.Store, deps.Backend, b, unread.WithLogger(log)),
	}
	return s, nil
}

func (s *Session) Bus() *bus.Bus { return s.bus }

// Bootstrap restores a stored credential. With none the session stays
// signed out and no push channel is created. A credential the backend
// rejects, or one that has already expired, is cleared. A network failure
// leaves the credential in place for the next start.
func (s *Session) Bootstrap(ctx context.Context) error {
	token, err := s.creds.Load(ctx)
	if errors.Is(err, storage.ErrCorruptCredential) {
		s.log.Warn("stored credential unreadable, clearing", "err", err)
		s.clearCredential(ctx)
		token, err = "", nil
	}
	if err != nil {
		return fmt.Errorf("session: load credential: %w", err)
	}
	if token == "" {
		s.log.Info("no stored credential")
		s.bus.Publish(bus.SessionChanged{Authenticated: false})
		return nil
	}

	if claims, err := user.ParseClaims(token); err == nil && claims.Expired(time.Now()) {
		s.log.Info("stored credential expired, clearing")
		s.clearCredential(ctx)
		s.bus.Publish(bus.SessionChanged{Authenticated: false})
		return apperr.Auth("bootstrap", errors.New("stored credential expired"))
	}

	s.tokens.Set(token)
	return s.authenticate(ctx)
}

// Login signs in with email and password and starts the session.
func (s *Session) Login(ctx context.Context, email, password string) error {
	if s.Authenticated() {
		if err := s.Logout(ctx); err != nil {
			return err
		}
	}
	token, err := s.Auth.Login(ctx, email, password)
	if err != nil {
		return err
	}
	if err := s.creds.Save(ctx, token); err != nil {
		return fmt.Errorf("session: save credential: %w", err)
	}
	s.tokens.Set(token)
	return s.authenticate(ctx)
}

// Logout ends the session and forgets the credential. The unread ledger is
// kept.
func (s *Session) Logout(ctx context.Context) error {
	s.teardown()
	s.Views.Focus(view.None)
	err := s.creds.Clear(ctx)
	s.tokens.Clear()
	s.bus.Publish(bus.SessionChanged{Authenticated: false})
	if err != nil {
		return fmt.Errorf("session: clear credential: %w", err)
	}
	return nil
}

// Close tears the session down without touching the stored credential and
// waits for background work.
func (s *Session) Close() {
	s.teardown()
	s.bg.Wait()
	s.Ledger.Close()
}

func (s *Session) authenticate(ctx context.Context) error {
	me, err := s.Auth.Me(ctx)
	if err != nil {
		if apperr.IsAuth(err) {
			s.log.Warn("credential rejected, signing out", "err", err)
			s.clearCredential(ctx)
		} else {
			s.log.Warn("could not reach backend, staying signed out", "err", err)
			s.tokens.Clear()
		}
		s.bus.Publish(bus.SessionChanged{Authenticated: false})
		return err
	}

	if err := s.Ledger.Load(ctx); err != nil {
		s.log.Warn("unread ledger not restored", "err", err)
	}
	s.syncLocation()

	l := s.build(*me)
	s.mu.Lock()
	old := s.live
	s.live = l
	s.mu.Unlock()
	if old != nil {
		old.close()
	}

	// ctx bounds the first dial only; the channel lives until teardown.
	if err := l.push.Start(ctx); err != nil {
		s.log.Warn("push channel not open", "user_id", me.ID, "err", err)
	}
	if err := l.matches.Refresh(ctx); err != nil {
		s.log.Warn("match list not loaded", "err", err)
	}
	if err := l.chat.Load(ctx); err != nil {
		s.log.Warn("conversation list not loaded", "err", err)
	}

	s.log.Info("signed in", "user_id", me.ID)
	s.bus.Publish(bus.SessionChanged{Authenticated: true, UserID: me.ID})
	return nil
}

func (s *Session) build(me user.User) *live {
	l := &live{user: me}
	l.push = push.NewSupervisor(func() *push.Channel {
		return push.NewChannel(s.channelURL(me.ID), middleware.AuthHeader(s.tokens), l.dispatcher.Handle,
			push.WithDialer(s.cfg.Dialer),
			push.WithLogger(s.log),
			push.WithMetrics(s.metrics),
		)
	}, s.cfg.Reconnect,
		push.WithSupervisorLogger(s.log),
		push.WithSupervisorMetrics(s.metrics),
	)
	l.chat = chat.NewService(me.ID, s.backend, s.Ledger, l.push, s.bus, chat.WithLogger(s.log))
	l.matches = matches.NewService(s.backend, s.store, s.bus, matches.WithLogger(s.log))
	l.discovery = discovery.NewQueue(s.backend, s.bus, discovery.WithLogger(s.log), discovery.WithInterstitial(s.interstitial()))
	l.dispatcher = realtime.New(l.chat, s.Ledger, l.matches, s.Views, s.bus, realtime.WithLogger(s.log))
	return l
}

func (s *Session) interstitial() time.Duration {
	if s.cfg.MatchInterstitial > 0 {
		return s.cfg.MatchInterstitial
	}
	return 3 * time.Second
}

func (s *Session) channelURL(userID int) string {
	return strings.TrimRight(s.cfg.WSURL, "/") + "/chat/ws/" + strconv.Itoa(userID)
}

// syncLocation reports the position in the background. The outcome is
// only logged and never retried.
func (s *Session) syncLocation() {
	if s.location == nil {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), locationTimeout)
		defer cancel()
		loc, err := s.location.Location(ctx)
		if err != nil {
			s.log.Warn("location unavailable", "err", err)
			return
		}
		// SyncLocation logs its own failure.
		_ = s.Profile.SyncLocation(ctx, loc)
	}()
}

func (s *Session) clearCredential(ctx context.Context) {
	s.tokens.Clear()
	if err := s.creds.Clear(ctx); err != nil {
		s.log.Warn("could not clear stored credential", "err", err)
	}
}

func (s *Session) teardown() {
	s.mu.Lock()
	l := s.live
	s.live = nil
	s.mu.Unlock()
	if l != nil {
		l.close()
	}
}

func (l *live) close() {
	l.push.Stop()
	l.chat.Close()
	l.matches.Close()
	l.discovery.Close()
}

func (s *Session) current() (*live, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == nil {
		return nil, ErrUnauthenticated
	}
	return s.live, nil
}

func (s *Session) Authenticated() bool {
	_, err := s.current()
	return err == nil
}

// User is the signed-in user, if any.
func (s *Session) User() (user.User, bool) {
	l, err := s.current()
	if err != nil {
		return user.User{}, false
	}
	return l.user, true
}

func (s *Session) Chat() (*chat.Service, error) {
	l, err := s.current()
	if err != nil {
		return nil, err
	}
	return l.chat, nil
}

func (s *Session) Matches() (*matches.Service, error) {
	l, err := s.current()
	if err != nil {
		return nil, err
	}
	return l.matches, nil
}

func (s *Session) Discovery() (*discovery.Queue, error) {
	l, err := s.current()
	if err != nil {
		return nil, err
	}
	return l.discovery, nil
}

// Channel is the push supervisor of the signed-in user.
func (s *Session) Channel() (*push.Supervisor, error) {
	l, err := s.current()
	if err != nil {
		return nil, err
	}
	return l.push, nil
}
