/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_reserve/internal/api"
	"github.com/friendsincode/grimnir_reserve/internal/booking"
	"github.com/friendsincode/grimnir_reserve/internal/cache"
	"github.com/friendsincode/grimnir_reserve/internal/clock"
	"github.com/friendsincode/grimnir_reserve/internal/config"
	"github.com/friendsincode/grimnir_reserve/internal/conflict"
	"github.com/friendsincode/grimnir_reserve/internal/db"
	"github.com/friendsincode/grimnir_reserve/internal/eventbus"
	"github.com/friendsincode/grimnir_reserve/internal/events"
	"github.com/friendsincode/grimnir_reserve/internal/leadership"
	"github.com/friendsincode/grimnir_reserve/internal/ledger"
	"github.com/friendsincode/grimnir_reserve/internal/logbuffer"
	"github.com/friendsincode/grimnir_reserve/internal/notifications"
	"github.com/friendsincode/grimnir_reserve/internal/store"
	"github.com/friendsincode/grimnir_reserve/internal/sweeper"
	"github.com/friendsincode/grimnir_reserve/internal/telemetry"
	"github.com/friendsincode/grimnir_reserve/internal/timer"
	"github.com/friendsincode/grimnir_reserve/internal/waitlist"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db          *gorm.DB
	redis       *redis.Client
	logBuffer   *logbuffer.Buffer
	bus         *events.Bus
	dispatcher  *eventbus.Dispatcher
	wheel       *timer.Wheel
	engine      *booking.Engine
	journal     *store.Store
	ranks       *cache.Ranks
	api         *api.API
	notifySvc   *notifications.Service
	sweeper     *sweeper.Service
	election    *leadership.Election
	leaderAware *sweeper.LeaderAware

	bgCancel context.CancelFunc
	bg       *errgroup.Group
}

// New constructs the server, wires dependencies and starts background workers.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware)
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(30 * time.Second))

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(context.Background()); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", telemetry.Handler())
	srv.metricsServer = &http.Server{
		Addr:              cfg.MetricsBind,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies(ctx context.Context) error {
	book, err := conflict.LoadRules(s.cfg.RulesFile, conflict.Rules{
		Buffer:      time.Duration(s.cfg.BufferMinutes) * time.Minute,
		MinDuration: time.Duration(s.cfg.MinBookingMinutes) * time.Minute,
		MaxDuration: time.Duration(s.cfg.MaxBookingMinutes) * time.Minute,
		MinNotice:   time.Duration(s.cfg.MinNoticeMinutes) * time.Minute,
		MaxAdvance:  time.Duration(s.cfg.MaxAdvanceDays) * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("load booking rules: %w", err)
	}
	s.logger.Info().Int("overrides", len(book.Resources())).Msg("booking rules loaded")

	if err := s.initRedis(ctx); err != nil {
		return err
	}

	sinks, err := s.eventSinks()
	if err != nil {
		return err
	}
	s.dispatcher = eventbus.NewDispatcher(eventbus.Config{
		Workers: s.cfg.EventWorkers,
		Buffer:  s.cfg.EventBuffer,
	}, s.logger, sinks...)
	s.DeferClose(s.dispatcher.Close)

	var journal booking.Journal
	if s.cfg.Persistent() {
		database, err := db.Connect(s.cfg.DBBackend, s.cfg.DBDSN, s.logger)
		if err != nil {
			return err
		}
		s.db = database
		s.DeferClose(func() error { return db.Close(database) })
		if err := db.Migrate(database); err != nil {
			return err
		}
		s.journal = store.New(database, s.logger)
		journal = s.journal
	} else {
		s.logger.Warn().Msg("memory backend selected: reservations and waiting lists are lost on restart")
	}

	clk := clock.NewSystem()
	led := ledger.NewMemory()
	s.wheel = timer.New(clk, s.logger)

	s.engine = booking.New(booking.Config{
		DefaultConfirmationMinutes: s.cfg.ConfirmationMinutes,
		AlternativeMinOverlap:      s.cfg.AlternativeMinOverlap,
	}, booking.Deps{
		Ledger:    led,
		Queue:     waitlist.NewMemory(),
		Timers:    s.wheel,
		Detector:  conflict.NewDetector(led, book, clk, s.dispatcher, s.logger),
		Publisher: s.dispatcher,
		Journal:   journal,
		Clock:     clk,
		Logger:    s.logger,
	})

	if s.journal != nil {
		snap, err := s.journal.Load(ctx)
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		stats, err := s.engine.Restore(ctx, snap)
		if err != nil {
			return fmt.Errorf("restore engine: %w", err)
		}
		s.logger.Info().
			Int("reservations", stats.Reservations).
			Int("entries", stats.Entries).
			Int("offers", stats.Offers).
			Int("expired", stats.Expired).
			Int("skipped", stats.Skipped).
			Msg("engine state restored")
	}

	var notifier notifications.Notifier = notifications.NewLogNotifier(s.logger)
	if s.cfg.NotifyWebhookURL != "" {
		notifier = notifications.NewWebhookNotifier(s.cfg.NotifyWebhookURL, s.cfg.NotifyWebhookSecret, s.logger)
	}
	s.notifySvc = notifications.NewService(s.bus, notifier, s.logger)

	opts := api.Options{
		JWTSecret: []byte(s.cfg.JWTSigningKey),
		LogBuffer: s.logBuffer,
		RateLimit: s.cfg.RateLimit,
		RateBurst: s.cfg.RateBurst,
	}
	if s.cfg.RankCacheEnabled && s.redis != nil {
		s.ranks = cache.NewRanks(cache.New(s.redis, cache.DefaultConfig(), s.logger), s.engine, s.bus, s.logger)
		opts.Ranks = s.ranks
	}
	s.api = api.New(s.engine, opts, s.logger)

	s.sweeper = sweeper.New(s.engine, s.cfg.SweepInterval, s.logger)
	if s.cfg.LeaderElectionEnabled {
		if s.redis == nil {
			return errors.New("leader election requires redis")
		}
		s.election = leadership.NewElection(s.redis, leadership.ElectionConfig{
			ElectionKey: "grimnir:reserve:leader:sweeper",
			InstanceID:  s.cfg.InstanceID,
		}, s.logger)
		s.leaderAware = sweeper.NewLeaderAware(s.sweeper, s.election, s.logger)

		s.logger.Info().
			Str("redis_addr", s.cfg.RedisAddr).
			Str("instance_id", s.election.InstanceID()).
			Msg("leader election enabled for sweeper")
	}

	return nil
}

// initRedis dials Redis when a feature needs it. Only leader election treats
// an unreachable Redis as fatal.
func (s *Server) initRedis(ctx context.Context) error {
	if !s.cfg.RedisEventsEnabled && !s.cfg.RankCacheEnabled && !s.cfg.LeaderElectionEnabled {
		return nil
	}

	redisCfg := eventbus.DefaultRedisConfig()
	redisCfg.Addr = s.cfg.RedisAddr
	redisCfg.Password = s.cfg.RedisPassword
	redisCfg.DB = s.cfg.RedisDB

	client, err := eventbus.NewRedisClient(ctx, redisCfg)
	if err != nil {
		if s.cfg.LeaderElectionEnabled {
			return fmt.Errorf("connect redis: %w", err)
		}
		s.logger.Warn().Err(err).Str("addr", s.cfg.RedisAddr).Msg("redis unavailable, continuing without redis features")
		return nil
	}
	s.redis = client
	s.DeferClose(client.Close)
	return nil
}

// eventSinks builds the dispatcher sinks. The in-process bus always comes
// first so notifications and cache refreshes see every fact.
func (s *Server) eventSinks() ([]eventbus.Sink, error) {
	sinks := []eventbus.Sink{s.bus}

	if s.cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		natsCfg.StreamName = s.cfg.NATSStream
		sink, err := eventbus.NewNATSSink(natsCfg, s.logger)
		if err != nil {
			return nil, fmt.Errorf("nats sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	if s.cfg.RedisEventsEnabled && s.redis != nil {
		sinks = append(sinks, eventbus.NewRedisSink(s.redis, eventbus.DefaultRedisConfig(), s.logger))
	}

	if s.cfg.AMQPURL != "" {
		sink, err := eventbus.NewAMQPSink(s.cfg.AMQPURL, s.cfg.AMQPExchange, s.logger)
		if err != nil {
			return nil, fmt.Errorf("amqp sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	return sinks, nil
}

// HTTPServer exposes the API server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer exposes the Prometheus listener.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// Engine exposes the booking engine.
func (s *Server) Engine() *booking.Engine {
	return s.engine
}

// Close stops timers, drains background workers and releases owned resources
// in reverse order.
func (s *Server) Close() error {
	if s.wheel != nil {
		s.wheel.Close()
	}
	firstErr := s.stopBackgroundWorkers()
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	s.bg = g

	if s.leaderAware != nil {
		g.Go(func() error { return s.election.Run(ctx) })
		g.Go(func() error { return s.leaderAware.Run(ctx) })
	} else {
		g.Go(func() error { return s.sweeper.Run(ctx) })
	}

	if s.journal != nil {
		g.Go(func() error { return s.journal.Run(ctx) })
	}

	g.Go(func() error {
		s.notifySvc.Start(ctx)
		return nil
	})

	if s.ranks != nil {
		g.Go(func() error {
			s.ranks.Start(ctx)
			return nil
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if s.journal != nil {
					telemetry.JournalBacklog.Set(float64(s.journal.Pending()))
				}
				if s.db != nil {
					db.UpdateConnectionMetrics(s.db)
				}
			}
		}
	})
}

func (s *Server) stopBackgroundWorkers() error {
	if s.bgCancel == nil {
		return nil
	}
	s.bgCancel()
	err := s.bg.Wait()
	s.bgCancel = nil
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{"status": "ok"}
		if s.leaderAware != nil {
			status["leader"] = s.election.IsLeader()
			if leaderID, err := s.election.GetLeader(r.Context()); err == nil && leaderID != "" {
				status["leader_id"] = leaderID
			}
		}
		if s.journal != nil {
			status["journal_pending"] = s.journal.Pending()
		}
		writeJSON(w, http.StatusOK, status)
	})

	s.api.Routes(s.router)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
