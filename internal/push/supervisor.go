package push

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"spark-client/internal/logger"
	"spark-client/internal/metrics"
)

// Supervisor owns the single push channel of a session and re-dials it
// according to a Policy when it drops.
type Supervisor struct {
	newChannel func() *Channel
	policy     Policy
	limiter    *rate.Limiter
	log        *slog.Logger
	metrics    metrics.Recorder
	onState    func(State)

	mu      sync.Mutex
	current *Channel
	cancel  context.CancelFunc
	done    chan struct{}
}

type SupervisorOption func(*Supervisor)

func WithSupervisorLogger(l *slog.Logger) SupervisorOption {
	return func(s *Supervisor) { s.log = logger.OrDefault(l) }
}

func WithSupervisorMetrics(r metrics.Recorder) SupervisorOption {
	return func(s *Supervisor) { s.metrics = metrics.OrNop(r) }
}

// WithStateHook is called with OPEN after every successful dial and with the
// terminal state whenever a channel ends.
func WithStateHook(fn func(State)) SupervisorOption {
	return func(s *Supervisor) { s.onState = fn }
}

// NewSupervisor builds a supervisor around factory, which must return a new,
// unopened Channel on each call.
func NewSupervisor(factory func() *Channel, p Policy, opts ...SupervisorOption) *Supervisor {
	every := rate.Inf
	if p.Initial > 0 {
		every = rate.Every(p.Initial)
	}
	s := &Supervisor{
		newChannel: factory,
		policy:     p,
		limiter:    rate.NewLimiter(every, 1),
		log:        slog.Default(),
		metrics:    metrics.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start dials the first channel and returns its result. ctx bounds only
// that first dial; the channel and its reconnects live until Stop.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	_ = s.limiter.Allow()
	ch := s.newChannel()
	s.setCurrent(ch)
	err := ch.Open(ctx)
	if err != nil {
		s.log.Warn("push channel dial failed", "err", err)
		s.notify(ch.State())
	} else {
		s.notify(Open)
	}
	go s.run(runCtx, ch, err == nil)
	return err
}

func (s *Supervisor) run(ctx context.Context, ch *Channel, opened bool) {
	defer close(s.done)

	attempt := 0
	for {
		if opened {
			attempt = 0
			select {
			case <-ch.Done():
				s.notify(ch.State())
			case <-ctx.Done():
				ch.Close()
				return
			}
		}
		if ctx.Err() != nil {
			return
		}

		attempt++
		if attempt > s.policy.MaxAttempts {
			if s.policy.MaxAttempts > 0 {
				s.log.Warn("push channel gave up reconnecting", "attempts", s.policy.MaxAttempts)
			}
			return
		}
		if !s.wait(ctx, s.policy.Delay(attempt)) {
			return
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}

		s.metrics.RecordReconnect()
		ch = s.newChannel()
		s.setCurrent(ch)
		if err := ch.Open(ctx); err != nil {
			s.log.Warn("push channel reconnect failed", "attempt", attempt, "err", err)
			s.notify(ch.State())
			opened = false
			continue
		}
		s.log.Info("push channel reconnected", "attempt", attempt)
		s.notify(Open)
		opened = true
	}
}

func (s *Supervisor) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Supervisor) setCurrent(ch *Channel) {
	s.mu.Lock()
	s.current = ch
	s.mu.Unlock()
}

func (s *Supervisor) notify(st State) {
	if s.onState != nil {
		s.onState(st)
	}
}

// Current is the channel most recently dialled, or nil before Start.
func (s *Supervisor) Current() *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Supervisor) State() State {
	if ch := s.Current(); ch != nil {
		return ch.State()
	}
	return Closed
}

// Send delivers out on the current channel.
func (s *Supervisor) Send(out Outbound) error {
	ch := s.Current()
	if ch == nil {
		s.metrics.RecordSendDropped()
		return ErrNotOpen
	}
	return ch.Send(out)
}

// Stop closes the current channel and ends reconnection. It is safe to call
// more than once.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done, ch := s.cancel, s.done, s.current
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if ch != nil {
		ch.Close()
	}
	<-done
}
