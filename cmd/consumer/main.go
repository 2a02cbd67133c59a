package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/fleet"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total driver location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	indexUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_index_updates_total",
		Help: "Total successful geo index updates",
	})
	indexErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_index_errors_total",
		Help: "Total geo index update failures after retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, indexUpdates, indexErrors)
}

func main() {
	cfg, err := config.LoadConsumerConfig()
	logger := logging.Component(logging.NewLogger(cfg.LogLevel), "consumer")
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.RedisAddr}, Password: cfg.RedisPassword})
	sink := &redisSink{index: geo.NewRedisGeo(rc, cfg.RedisGeoKey), fleet: fleet.NewRedisStore(rc)}

	// metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroupID, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroupID)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		loc, err := decodeLocation(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "err", err, "offset", m.Offset)
			continue
		}

		if err := updateWithRetry(ctx, sink, loc, cfg.MaxRetries, cfg.RetryBackoff); err != nil {
			indexErrors.Inc()
			logger.Error("index update failed", "driver_id", loc.DriverID, "err", err)
			continue
		}
		indexUpdates.Inc()
	}
}

// LocationSink is the subset of the geo index and fleet store a location
// message touches.
type LocationSink interface {
	Upsert(ctx context.Context, loc models.DriverLocation) error
	MarkAvailableIfUnset(ctx context.Context, driverID string) error
}

type redisSink struct {
	index *geo.RedisGeo
	fleet *fleet.RedisStore
}

func (s *redisSink) Upsert(ctx context.Context, loc models.DriverLocation) error {
	return s.index.Upsert(ctx, loc)
}

func (s *redisSink) MarkAvailableIfUnset(ctx context.Context, driverID string) error {
	return s.fleet.MarkAvailableIfUnset(ctx, driverID)
}

func decodeLocation(b []byte) (models.DriverLocation, error) {
	var loc models.DriverLocation
	if err := json.Unmarshal(b, &loc); err != nil {
		return loc, err
	}
	if loc.DriverID == "" {
		return loc, errors.New("missing driver_id")
	}
	if !geo.ValidCoord(loc.Coord()) {
		return loc, errors.New("coordinates out of range")
	}
	if loc.Updated.IsZero() {
		loc.Updated = time.Now().UTC()
	}
	return loc, nil
}

// updateWithRetry writes the position and seeds availability, doubling delay
// between attempts.
func updateWithRetry(ctx context.Context, sink LocationSink, loc models.DriverLocation, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = sink.Upsert(ctx, loc); err == nil {
			if err = sink.MarkAvailableIfUnset(ctx, loc.DriverID); err == nil {
				return nil
			}
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
