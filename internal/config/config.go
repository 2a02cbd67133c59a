package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the gateway process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers     []string
	KafkaTopic       string
	KafkaEventsTopic string
	EventWebhookURL  string
	EventWebhookKey  string

	PGDSN string

	JWTSecret string

	LogLevel      string
	RunMigrations bool

	Dispatch DispatchConfig
}

// DispatchConfig holds the matching and lifecycle knobs shared by the
// dispatch coordinator and the ride engine.
type DispatchConfig struct {
	Tiers         []string
	TopN          int
	RadiusStepsKm []float64
	MaxRadiusKm   float64

	OfferTimeoutLocal      time.Duration
	OfferTimeoutOutstation time.Duration
	SearchDelay            time.Duration
	RedispatchDelay        time.Duration
	BindTTL                time.Duration
	EscalateToAdmin        bool
	DefaultSpeedMps        float64

	OTPValidity    time.Duration
	OTPMaxAttempts int

	ScheduleLookahead    time.Duration
	SchedulePollInterval time.Duration
	ScheduleGrace        time.Duration

	CommissionRate           float64
	CommissionRateOutstation float64
}

func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		Tiers:                    []string{"premium", "standard"},
		TopN:                     5,
		RadiusStepsKm:            []float64{2, 5, 8, 11, 14},
		MaxRadiusKm:              15,
		OfferTimeoutLocal:        30 * time.Second,
		OfferTimeoutOutstation:   60 * time.Second,
		SearchDelay:              time.Second,
		RedispatchDelay:          3 * time.Second,
		BindTTL:                  10 * time.Second,
		DefaultSpeedMps:          8,
		OTPValidity:              5 * time.Minute,
		OTPMaxAttempts:           3,
		ScheduleLookahead:        time.Hour,
		SchedulePollInterval:     time.Minute,
		ScheduleGrace:            30 * time.Minute,
		CommissionRate:           0.25,
		CommissionRateOutstation: 0.20,
	}
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		RedisGeoKey:      "locations",
		KafkaTopic:       "driver-locations",
		KafkaEventsTopic: "ride-events",
		LogLevel:         "info",
		Dispatch:         DefaultDispatchConfig(),
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaEventsTopic, "KAFKA_EVENTS_TOPIC")
	cfg.EventWebhookURL = strings.TrimSpace(os.Getenv("EVENT_WEBHOOK_URL"))
	cfg.EventWebhookKey = os.Getenv("EVENT_WEBHOOK_KEY")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	loadDispatch(&cfg.Dispatch, &errs)

	if cfg.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be set"))
	}
	errs = append(errs, cfg.Dispatch.Validate()...)

	return cfg, errors.Join(errs...)
}

func loadDispatch(d *DispatchConfig, errs *[]error) {
	if v := os.Getenv("DISPATCH_TIERS"); v != "" {
		d.Tiers = splitAndTrim(v)
	}
	setIntFromEnv(&d.TopN, "DISPATCH_TOP_N", errs)
	if v := os.Getenv("DISPATCH_RADIUS_STEPS_KM"); v != "" {
		steps := make([]float64, 0)
		for _, s := range splitAndTrim(v) {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				*errs = append(*errs, fmt.Errorf("invalid DISPATCH_RADIUS_STEPS_KM: %w", err))
				return
			}
			steps = append(steps, f)
		}
		d.RadiusStepsKm = steps
	}
	setFloatFromEnv(&d.MaxRadiusKm, "DISPATCH_MAX_RADIUS_KM", errs)
	setDurationFromEnv(&d.OfferTimeoutLocal, "DISPATCH_OFFER_TIMEOUT_LOCAL", errs)
	setDurationFromEnv(&d.OfferTimeoutOutstation, "DISPATCH_OFFER_TIMEOUT_OUTSTATION", errs)
	setDurationFromEnv(&d.SearchDelay, "DISPATCH_SEARCH_DELAY", errs)
	setDurationFromEnv(&d.RedispatchDelay, "DISPATCH_REDISPATCH_DELAY", errs)
	setDurationFromEnv(&d.BindTTL, "DISPATCH_BIND_TTL", errs)
	setBoolFromEnv(&d.EscalateToAdmin, "DISPATCH_ESCALATE_TO_ADMIN")
	setFloatFromEnv(&d.DefaultSpeedMps, "MATCHER_DEFAULT_SPEED_MPS", errs)
	setDurationFromEnv(&d.OTPValidity, "OTP_VALIDITY", errs)
	setIntFromEnv(&d.OTPMaxAttempts, "OTP_MAX_ATTEMPTS", errs)
	setDurationFromEnv(&d.ScheduleLookahead, "SCHEDULE_LOOKAHEAD", errs)
	setDurationFromEnv(&d.SchedulePollInterval, "SCHEDULE_POLL_INTERVAL", errs)
	setDurationFromEnv(&d.ScheduleGrace, "SCHEDULE_GRACE", errs)
	setFloatFromEnv(&d.CommissionRate, "COMMISSION_RATE", errs)
	setFloatFromEnv(&d.CommissionRateOutstation, "COMMISSION_RATE_OUTSTATION", errs)
}

// Validate returns one error per invalid setting.
func (d DispatchConfig) Validate() []error {
	var errs []error
	if len(d.Tiers) == 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_TIERS must list at least one tier"))
	}
	if d.TopN <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_TOP_N must be > 0"))
	}
	if d.MaxRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_MAX_RADIUS_KM must be > 0"))
	}
	if d.OfferTimeoutLocal <= 0 || d.OfferTimeoutOutstation <= 0 {
		errs = append(errs, fmt.Errorf("offer timeouts must be > 0"))
	}
	if d.ScheduleGrace < 0 {
		errs = append(errs, fmt.Errorf("SCHEDULE_GRACE must be >= 0"))
	}
	if d.OTPMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("OTP_MAX_ATTEMPTS must be > 0"))
	}
	for _, r := range []float64{d.CommissionRate, d.CommissionRateOutstation} {
		if r < 0 || r >= 1 {
			errs = append(errs, fmt.Errorf("commission rates must be in [0,1)"))
			break
		}
	}
	return errs
}

// Radii returns the search radii for one tier round, capped at MaxRadiusKm.
func (d DispatchConfig) Radii() []float64 {
	out := make([]float64, 0, len(d.RadiusStepsKm)+1)
	for _, r := range d.RadiusStepsKm {
		if r > 0 && r <= d.MaxRadiusKm {
			out = append(out, r)
		}
	}
	if len(out) == 0 || out[len(out)-1] < d.MaxRadiusKm {
		out = append(out, d.MaxRadiusKm)
	}
	return out
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setBoolFromEnv(target *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = strings.EqualFold(v, "true") || v == "1"
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ConsumerConfig configures the location consumer that drains the Kafka
// location topic into the Redis geo index.
type ConsumerConfig struct {
	MetricsAddr   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroupID  string
	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
	MaxRetries    int
	RetryBackoff  time.Duration
	LogLevel      string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:  ":9101",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "driver-locations",
		KafkaGroupID: "location-consumer",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "locations",
		MaxRetries:   3,
		RetryBackoff: 100 * time.Millisecond,
		LogLevel:     "info",
	}
	var errs []error

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroupID, "KAFKA_GROUP_ID")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setIntFromEnv(&cfg.MaxRetries, "CONSUMER_MAX_RETRIES", &errs)
	setDurationFromEnv(&cfg.RetryBackoff, "CONSUMER_RETRY_BACKOFF", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must list at least one broker"))
	}
	if cfg.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("CONSUMER_MAX_RETRIES must be >= 1"))
	}
	return cfg, errors.Join(errs...)
}
