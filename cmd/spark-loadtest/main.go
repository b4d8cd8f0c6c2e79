package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"spark-client/internal/api"
	"spark-client/internal/discovery"
	"spark-client/internal/fakebackend"
	"spark-client/internal/logger"
	"spark-client/internal/middleware"
	"spark-client/internal/push"
	"spark-client/internal/user"
)

const password = "password123"

type stats struct {
	sent     atomic.Int64
	received atomic.Int64
	failed   atomic.Int64
}

func main() {
	apiURL := flag.String("api", "", "backend base URL; empty runs an in-process fake backend")
	pairs := flag.Int("pairs", 50, "number of matched user pairs")
	msgs := flag.Int("msgs", 20, "messages each user sends")
	gap := flag.Duration("gap", 10*time.Millisecond, "pause between messages")
	wait := flag.Duration("wait", 10*time.Second, "how long to wait for deliveries")
	flag.Parse()

	log := logger.SetupDefault(os.Stdout, slog.LevelInfo)

	base := strings.TrimRight(*apiURL, "/")
	if base == "" {
		fake := fakebackend.New(fakebackend.WithLogger(logger.Setup(os.Stderr, slog.LevelWarn)))
		hs := httptest.NewServer(fake.Handler())
		defer func() {
			hs.Close()
			fake.Close()
		}()
		base = hs.URL
		log.Info("using in-process fake backend", "url", base)
	}
	wsBase := "ws" + strings.TrimPrefix(base, "http")

	log.Info("starting load test", "users", *pairs*2, "messages_each", *msgs)
	start := time.Now()
	st := &stats{}
	run := time.Now().UnixNano()

	var wg sync.WaitGroup
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			if err := runPair(base, wsBase, run, pairID, *msgs, *gap, *wait, st); err != nil {
				st.failed.Add(1)
				log.Warn("pair failed", "pair", pairID, "err", err)
			}
		}(i)
	}
	wg.Wait()

	log.Info("load test complete",
		"elapsed", time.Since(start).Round(time.Millisecond),
		"sent", st.sent.Load(),
		"received", st.received.Load(),
		"failed_pairs", st.failed.Load(),
	)
}

type participant struct {
	id     int
	client *api.Client
	tokens *middleware.TokenHolder
}

func runPair(base, wsBase string, run int64, pairID, msgs int, gap, wait time.Duration, st *stats) error {
	ctx := context.Background()
	a, err := signUp(ctx, base, fmt.Sprintf("lt_%d_%d_a@example.com", run, pairID))
	if err != nil {
		return err
	}
	b, err := signUp(ctx, base, fmt.Sprintf("lt_%d_%d_b@example.com", run, pairID))
	if err != nil {
		return err
	}
	if _, err := a.client.Swipe(ctx, discovery.SwipeRequest{LikedID: b.id, IsLike: true}); err != nil {
		return err
	}
	if _, err := b.client.Swipe(ctx, discovery.SwipeRequest{LikedID: a.id, IsLike: true}); err != nil {
		return err
	}

	want := int64(2 * msgs)
	var got atomic.Int64
	done := make(chan struct{})
	onEvent := func(ev push.Event) {
		if ev.Tag() != push.TagNewMessage {
			return
		}
		st.received.Add(1)
		if got.Add(1) == want {
			close(done)
		}
	}

	chA, err := open(ctx, wsBase, a, onEvent)
	if err != nil {
		return err
	}
	defer chA.Close()
	chB, err := open(ctx, wsBase, b, onEvent)
	if err != nil {
		return err
	}
	defer chB.Close()

	var wg sync.WaitGroup
	for _, s := range []struct {
		ch *push.Channel
		to int
	}{{chA, b.id}, {chB, a.id}} {
		wg.Add(1)
		go func(ch *push.Channel, to int) {
			defer wg.Done()
			for i := 0; i < msgs; i++ {
				if err := ch.Send(push.Outbound{ReceiverID: to, Content: "load test message " + strconv.Itoa(i)}); err != nil {
					return
				}
				st.sent.Add(1)
				time.Sleep(gap)
			}
		}(s.ch, s.to)
	}
	wg.Wait()

	if want == 0 {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-time.After(wait):
		return fmt.Errorf("received %d of %d messages", got.Load(), want)
	}
}

func signUp(ctx context.Context, base, email string) (*participant, error) {
	tokens := &middleware.TokenHolder{}
	c, err := api.New(base, tokens, api.WithHTTPClient(&http.Client{Timeout: 10 * time.Second}))
	if err != nil {
		return nil, err
	}
	reg, err := c.Register(ctx, user.RegisterRequest{
		FullName:  email,
		Email:     email,
		Password:  password,
		Birthdate: "1995-06-01",
		Gender:    "other",
	})
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", email, err)
	}
	res, err := c.Login(ctx, user.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("login %s: %w", email, err)
	}
	tokens.Set(res.AccessToken)
	return &participant{id: reg.UserID, client: c, tokens: tokens}, nil
}

func open(ctx context.Context, wsBase string, p *participant, h push.Handler) (*push.Channel, error) {
	url := wsBase + "/chat/ws/" + strconv.Itoa(p.id)
	ch := push.NewChannel(url, middleware.AuthHeader(p.tokens), h)
	if err := ch.Open(ctx); err != nil {
		return nil, fmt.Errorf("open channel for %d: %w", p.id, err)
	}
	return ch, nil
}
