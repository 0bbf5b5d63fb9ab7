package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edvart/mazechase/internal/auth"
	"github.com/edvart/mazechase/internal/config"
	"github.com/edvart/mazechase/internal/events"
	"github.com/edvart/mazechase/internal/gamesession"
	"github.com/edvart/mazechase/internal/leaderboard"
	"github.com/edvart/mazechase/internal/logging"
	"github.com/edvart/mazechase/internal/metrics"
	"github.com/edvart/mazechase/internal/players"
	"github.com/edvart/mazechase/internal/push"
	"github.com/edvart/mazechase/internal/stats"
	"github.com/edvart/mazechase/internal/store"
	"github.com/edvart/mazechase/internal/web"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(ctx)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.WithError(err).Warn("Falling back to info log level")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("Server failed")
	}
	log.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return err
	}

	db, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	m := metrics.NewManager()
	bus := events.NewBus(log.WithField("component", "events"))

	agg := stats.NewAggregator(db, log.WithField("component", "stats"), stats.WithMetrics(m))
	sessions := gamesession.NewService(db, agg, log.WithField("component", "sessions"),
		gamesession.WithPublisher(bus),
		gamesession.WithMetrics(m),
	)
	board := leaderboard.NewEngine(db, log.WithField("component", "leaderboard"),
		leaderboard.WithMetrics(m),
		leaderboard.WithMaxPageSize(cfg.MaxPageSize),
	)
	playerService := players.NewService(db, log.WithField("component", "players"))

	secret := cfg.TokenSecret
	if secret == "" {
		if secret, err = auth.GenerateSecret(); err != nil {
			return err
		}
		log.Warn("No token_secret configured; using a random one, tokens will not survive a restart")
	}
	tokens := auth.NewTokenService(secret, cfg.TokenIssuer, time.Duration(cfg.TokenTTLHours)*time.Hour)

	pushService := push.NewService(db, push.Config{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		VAPIDSubject:    cfg.VAPIDSubject,
	}, log.WithField("component", "push"), m)
	if pushService.Enabled() {
		go push.NewNotifier(pushService, log.WithField("component", "notifier")).Run(ctx, bus.Subscribe())
	} else {
		log.Info("VAPID keys not configured, push notifications disabled")
	}

	server := web.NewServer(web.Deps{
		Store:       db,
		Sessions:    sessions,
		Stats:       agg,
		Leaderboard: board,
		Players:     playerService,
		Tokens:      tokens,
		Admins:      auth.NewAdminConfig(cfg.AdminUserIDs),
		Push:        pushService,
		Metrics:     m,
	}, web.Config{
		DevMode:         cfg.DevMode,
		DefaultPageSize: cfg.DefaultPageSize,
	}, log.WithField("component", "web"))
	server.StartSSE(bus.Subscribe())

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer.RegisterOnShutdown(server.CloseStreams)

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Addr).Info("Server running")
		if cfg.DevMode {
			log.Info("Dev mode enabled: GET /dev/login?user=<id>&username=<name> issues a token")
		}
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		bus.Close()
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown error")
	}
	bus.Close()
	return nil
}
