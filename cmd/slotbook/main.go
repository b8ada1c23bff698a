package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slotbook/internal/api"
	"slotbook/internal/booking"
	"slotbook/internal/config"
	"slotbook/internal/database"
	"slotbook/internal/events"
	"slotbook/internal/metrics"
	"slotbook/internal/reminder"
	"slotbook/internal/repository"
	"slotbook/internal/slots"
	"slotbook/internal/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

func main() {
	// Initialize logger
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("SLOTBOOK_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	storage, db, cleanup, err := openStorage(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open storage error")
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewEventBus()
	bus.OnError(func(e events.Event, err error) {
		logger.Warn().Err(err).Str("event", e.Type).Msg("event handler failed")
	})

	onSubmit := func(string) {}
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		metrics.Subscribe(bus)
		onSubmit = metrics.IncBookingSubmit
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	st := store.Open(ctx, storage, &logger, store.WithPublisher(bus))
	schedule := slots.ScheduleFromConfig(cfg.Schedule)

	sessions := booking.NewSessionStore(cfg.SessionTimeout(), func() *booking.Workflow {
		return booking.NewWorkflow(st, booking.Config{
			Schedule:          schedule,
			SubmitDelay:       cfg.SubmitDelay(),
			ConfirmationDwell: cfg.ConfirmationDwell(),
			OnSubmit:          onSubmit,
		}, &logger)
	})
	defer sessions.CloseAll()
	go runSessionCleanup(ctx, sessions, cfg.SessionCleanupInterval(), &logger)

	if db != nil {
		logger.Info().Str("path", db.Path()).Msg("sqlite storage opened")
		backups := database.NewBackupService(db, cfg.Backup, &logger)
		go backups.Start(ctx, time.Minute)
	}

	if cfg.Reminders.Enabled {
		reminders := reminder.NewService(st, storage, bus, &logger)
		go reminders.Start(ctx, cfg.Reminders.Interval())
	}

	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, storage, &logger)

	router := api.NewRouter(api.RouterConfig{
		Store:         st,
		Sessions:      sessions,
		Storage:       storage,
		Schedule:      schedule,
		UpcomingLimit: cfg.UpcomingLimit(),
		SubmitLimiter: rate.NewLimiter(rate.Limit(cfg.HTTP.SubmitRateLimit), cfg.HTTP.SubmitBurst),
		Logger:        &logger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	logger.Info().Int("port", cfg.HTTP.Port).Str("storage", cfg.Storage.Driver).Msg("slotbook started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("api server error")
	}
	logger.Info().Msg("slotbook stopped")
}

// openStorage builds the configured backend. db is non-nil when a SQLite file is in use.
func openStorage(cfg *config.Config, logger *zerolog.Logger) (repository.Storage, *database.DB, func(), error) {
	noop := func() {}

	switch cfg.Storage.Driver {
	case config.DriverMemory:
		return repository.NewMemoryStorage(), nil, noop, nil

	case config.DriverSQLite:
		db, err := database.NewDB(cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, nil, noop, err
		}
		return db, db, func() { _ = db.Close() }, nil

	case config.DriverRedis:
		rdb, err := repository.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, noop, err
		}
		return repository.NewRedisStorage(rdb, cfg.Storage.KeyPrefix), nil, func() { _ = rdb.Close() }, nil

	case config.DriverFailover:
		db, err := database.NewDB(cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, nil, noop, err
		}
		// No startup ping: an unreachable redis starts on the fallback.
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
		})
		storage := repository.NewFailoverStorage(repository.NewRedisStorage(rdb, cfg.Storage.KeyPrefix), db, logger)
		return storage, db, func() {
			_ = rdb.Close()
			_ = db.Close()
		}, nil
	}
	return nil, nil, noop, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

func runSessionCleanup(ctx context.Context, sessions *booking.SessionStore, interval time.Duration, logger *zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Cleanup(); n > 0 {
				logger.Debug().Int("removed", n).Int("active", sessions.Len()).Msg("expired sessions cleaned up")
			}
		}
	}
}

func startHealthServer(ctx context.Context, port int, storage repository.Storage, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := storage.Ping(ctxPing); err != nil {
			http.Error(w, "storage not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
