// Package fakebackend is an in-process Spark backend speaking the same
// REST and websocket contract as the real one. It backs integration
// tests and the load generator.
package fakebackend

import (
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"spark-client/internal/chat"
	"spark-client/internal/logger"
	"spark-client/internal/middleware"
	"spark-client/internal/push"
	"spark-client/internal/user"
)

const (
	resetCodeTTL  = 15 * time.Minute
	resetAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

type Server struct {
	store  *store
	tokens *tokens
	hub    *hub
	router chi.Router
	log    *slog.Logger
	now    func() time.Time
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.log = logger.OrDefault(l)
	}
}

// WithClock fixes the time used for tokens, matches and messages.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

func WithSecret(secret string) Option {
	return func(s *Server) {
		s.tokens.secret = []byte(secret)
	}
}

func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) {
		s.tokens.ttl = d
	}
}

// New starts the hub goroutine. Call Close to stop it.
func New(opts ...Option) *Server {
	s := &Server{
		log:    slog.Default(),
		now:    time.Now,
		tokens: &tokens{secret: []byte("spark-fake-secret"), ttl: 24 * time.Hour},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tokens.now = s.now
	s.store = newStore(s.now)
	s.hub = newHub(s.log)
	go s.hub.run()
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.register)
		r.Post("/login", s.login)
		r.Post("/forgot-password", s.forgotPassword)
		r.Post("/reset-password", s.resetPassword)
		r.With(middleware.RequireBearer(s.tokens)).Get("/me", s.me)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireBearer(s.tokens))

		r.Route("/users", func(r chi.Router) {
			r.Get("/discovery", s.discovery)
			r.Post("/swipe", s.swipe)
			r.Post("/swipe/undo", s.undoSwipe)
			r.Get("/matches", s.matches)
			r.Get("/me/profile", s.myProfile)
			r.Patch("/me/profile", s.updateProfile)
			r.Put("/me/change-password", s.changePassword)
			r.Post("/me/images/upload", s.uploadImage)
			r.Delete("/me/images/{imageID}", s.deleteImage)
			r.Post("/me/location", s.updateLocation)
			r.Get("/{userID}/profile", s.userProfile)
			r.Post("/{userID}/block", s.block)
		})

		r.Route("/chat", func(r chi.Router) {
			r.Get("/conversation/{userID}", s.conversation)
			r.Post("/mark-read/{userID}", s.markRead)
			r.Get("/ws/{userID}", s.serveWs)
		})
	})
	return r
}

func (s *Server) Handler() http.Handler { return s.router }

// Close disconnects every push client and stops the hub.
func (s *Server) Close() { s.hub.stop() }

// AddUser creates an account with a profile named name.
func (s *Server) AddUser(email, password, name string) int {
	hash, err := hashPassword(password)
	if err != nil {
		panic(err)
	}
	id, ok := s.store.createAccount(email, hash, user.Profile{FullName: name, Birthdate: "2000-01-01"})
	if !ok {
		panic("fakebackend: duplicate email " + email)
	}
	return id
}

// Token mints a valid access token for id.
func (s *Server) Token(id int) string {
	tok, err := s.tokens.Mint(id)
	if err != nil {
		panic(err)
	}
	return tok
}

// ExpiredToken mints a correctly signed token that expired an hour ago.
func (s *Server) ExpiredToken(id int) string {
	tok, err := s.tokens.MintAt(id, s.now().Add(-time.Hour))
	if err != nil {
		panic(err)
	}
	return tok
}

// Like records from liking to, as if from's client had swiped right.
func (s *Server) Like(from, to int) bool {
	return s.store.recordSwipe(from, to, true)
}

// Push sends ev to userID's channel if connected.
func (s *Server) Push(userID int, ev push.Event) error {
	payload, err := push.Encode(ev)
	if err != nil {
		return err
	}
	s.hub.send(userID, payload)
	return nil
}

func (s *Server) Connected(userID int) bool { return s.hub.isConnected(userID) }

// Disconnect closes userID's channel from the server side.
func (s *Server) Disconnect(userID int) { s.hub.disconnect(userID) }

// Messages returns the stored conversation between a and b.
func (s *Server) Messages(a, b int) []chat.Message { return s.store.conversation(a, b) }

func (s *Server) Location(userID int) (user.Location, bool) {
	acc, ok := s.store.account(userID)
	if !ok || acc.location == nil {
		return user.Location{}, false
	}
	return *acc.location, true
}

// ResetCode returns the outstanding recovery code for email.
func (s *Server) ResetCode(email string) string { return s.store.resetCode(email) }

func (s *Server) newResetCode() string {
	b := make([]byte, 10)
	for i := range b {
		b[i] = resetAlphabet[rand.IntN(len(resetAlphabet))]
	}
	return string(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeValidation mirrors the list form used for request validation errors.
func writeValidation(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"detail": []map[string]string{{"msg": msg}},
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeValidation(w, "Invalid JSON body")
		return false
	}
	return true
}

func caller(r *http.Request) int {
	id, _ := middleware.UserID(r.Context())
	return id
}
