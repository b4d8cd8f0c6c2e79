package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"spark-client/internal/api"
	"spark-client/internal/bus"
	"spark-client/internal/config"
	"spark-client/internal/inspect"
	"spark-client/internal/logger"
	"spark-client/internal/metrics"
	"spark-client/internal/middleware"
	"spark-client/internal/push"
	"spark-client/internal/session"
	"spark-client/internal/storage"
)

func main() {
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load(*envFile)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	log := logger.SetupDefault(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("state store unavailable", "driver", cfg.StorageDriver, "err", err)
		os.Exit(1)
	}
	defer closeStore()
	log.Info("state store ready", "driver", cfg.StorageDriver)

	creds, err := storage.NewCredentialStore(store, cfg.CredentialKey)
	if err != nil {
		log.Error("credential store", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewCollector(reg)

	tokens := &middleware.TokenHolder{}
	backend, err := api.New(cfg.APIURL, tokens, api.WithTimeout(cfg.HTTPTimeout), api.WithMetrics(rec))
	if err != nil {
		log.Error("backend client", "err", err)
		os.Exit(1)
	}

	b := bus.New()
	watch(b, log)

	deps := session.Deps{
		Backend:     backend,
		Credentials: creds,
		Tokens:      tokens,
		Store:       store,
		Bus:         b,
		Logger:      log,
		Metrics:     rec,
	}
	if cfg.Latitude != nil {
		deps.Location = session.StaticLocation{Latitude: *cfg.Latitude, Longitude: *cfg.Longitude}
	}
	sess, err := session.New(session.Config{
		WSURL: cfg.WSURL,
		Reconnect: push.Policy{
			Initial:     cfg.ReconnectInitial,
			Max:         cfg.ReconnectMax,
			Multiplier:  push.DefaultPolicy().Multiplier,
			MaxAttempts: cfg.ReconnectAttempts,
		},
		MatchInterstitial: cfg.MatchInterstitial,
	}, deps)
	if err != nil {
		log.Error("session", "err", err)
		os.Exit(1)
	}
	defer sess.Close()

	if err := sess.Bootstrap(ctx); err != nil {
		log.Warn("stored session not restored", "err", err)
	}
	if !sess.Authenticated() && cfg.Email != "" {
		if err := sess.Login(ctx, cfg.Email, cfg.Password); err != nil {
			log.Error("login failed", "email", cfg.Email, "detail", api.Detail(err), "err", err)
		}
	}

	srv := &http.Server{
		Addr:              cfg.InspectAddr,
		Handler:           inspect.NewRouter(sess, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("inspect server listening", "addr", cfg.InspectAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("inspect server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, func(), error) {
	switch cfg.StorageDriver {
	case config.DriverRedis:
		r, err := storage.DialRedis(ctx, cfg.RedisAddr, cfg.StateNamespace)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	case config.DriverPostgres:
		p, err := storage.NewPostgres(cfg.StateDSN, cfg.StateNamespace)
		if err != nil {
			return nil, nil, err
		}
		if err := p.AutoMigrate(ctx); err != nil {
			_ = p.Close()
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	default:
		return storage.NewMemory(), func() {}, nil
	}
}

// watch logs what a UI would surface to the user.
func watch(b *bus.Bus, log *slog.Logger) {
	bus.On(b, func(e bus.SessionChanged) {
		log.Info("session changed", "authenticated", e.Authenticated, "user_id", e.UserID)
	})
	bus.On(b, func(n bus.Notice) {
		log.Info("notice", "level", n.Level, "text", n.Text)
	})
	bus.On(b, func(m bus.MessageNotice) {
		log.Info("new message", "sender_id", m.SenderID, "sender", m.SenderName)
	})
	bus.On(b, func(u bus.UnreadChanged) {
		log.Debug("unread changed", "user_id", u.UserID, "unread", u.Unread, "count", u.Count)
	})
	bus.On(b, func(m bus.MatchIndicator) {
		log.Debug("match indicator", "has_new", m.HasNew)
	})
}
