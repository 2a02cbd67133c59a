package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/engine"
	"github.com/example/ride-dispatch/internal/fleet"
	"github.com/example/ride-dispatch/internal/gateway"
	"github.com/example/ride-dispatch/internal/geo"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/lease"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/timer"
)

type stores interface {
	storage.RideStore
	storage.DriverStore
}

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	var checks []httpapi.Check

	var store stores = storage.NewMemoryStore()
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		if cfg.RunMigrations {
			applied, err := pg.Migrate(ctx)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", "files", applied)
		}
		store = pg
		checks = append(checks, httpapi.Check{Name: "postgres", Fn: pg.Ping})
	}

	var (
		index  geo.Index   = geo.NewMemoryIndex()
		fl     fleet.Store = fleet.NewMemoryStore()
		leases lease.Store = lease.NewMemoryStore()
	)
	if cfg.RedisAddr != "" {
		rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.RedisAddr}, Password: cfg.RedisPassword})
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			return err
		}
		index = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
		fl = fleet.NewRedisStore(rc)
		leases = lease.NewRedisStore(rc)
		checks = append(checks, httpapi.Check{Name: "redis", Fn: func(ctx context.Context) error { return rc.Ping(ctx).Err() }})
	}

	var sinks []notify.Sink
	var locations httpapi.LocationPublisher
	if len(cfg.KafkaBrokers) > 0 {
		events := ingest.NewEventPublisher(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		defer events.Close()
		sinks = append(sinks, events)

		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		locations = producer
	}
	if cfg.EventWebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.EventWebhookURL, cfg.EventWebhookKey))
	}

	registry := presence.NewRegistry()
	emitter := notify.NewEmitter(registry, logger, sinks...)
	timers := timer.NewWheel()
	defer timers.Stop()

	mach := ride.NewMachine(store, cfg.Dispatch, logger)
	coord := dispatch.New(dispatch.Deps{
		Rides:   store,
		Drivers: store,
		Machine: mach,
		Finder:  &matcher.Finder{Geo: index, Drivers: store, Fleet: fl, Presence: registry, Logger: logger},
		Leases:  leases,
		Timers:  timers,
		Fleet:   fl,
		Notify:  emitter,
		Config:  cfg.Dispatch,
		Base:    ctx,
		Logger:  logger,
	})
	eng := engine.New(engine.Deps{
		Rides:       store,
		Drivers:     store,
		Machine:     mach,
		Coordinator: coord,
		Geo:         index,
		Fleet:       fl,
		Leases:      leases,
		Notify:      emitter,
		Config:      cfg.Dispatch,
		Logger:      logger,
	})

	verifier := auth.NewVerifier(cfg.JWTSecret)
	api := httpapi.NewServer(httpapi.Options{
		Engine:    eng,
		Gateway:   gateway.New(eng, registry, verifier, emitter, logger),
		Verifier:  verifier,
		Locations: locations,
		Checks:    checks,
		Logger:    logger,
	})
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return emitter.Run(gctx) })
	g.Go(func() error { return eng.RunScheduler(gctx) })
	g.Go(func() error {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
