package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RedisGeoKey != "locations" {
		t.Fatalf("expected default geo key 'locations', got %q", cfg.RedisGeoKey)
	}
	if got := cfg.Dispatch.Tiers; len(got) != 2 || got[0] != "premium" || got[1] != "standard" {
		t.Fatalf("unexpected default tiers %v", got)
	}
	if cfg.Dispatch.OfferTimeoutLocal >= cfg.Dispatch.OfferTimeoutOutstation {
		t.Fatalf("local offers must time out sooner than outstation offers")
	}
}

func TestLoadServerConfigOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DISPATCH_TIERS", "gold, silver ,bronze")
	t.Setenv("DISPATCH_RADIUS_STEPS_KM", "1,3")
	t.Setenv("DISPATCH_OFFER_TIMEOUT_LOCAL", "15s")
	t.Setenv("DISPATCH_ESCALATE_TO_ADMIN", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("SCHEDULE_GRACE", "10m")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Dispatch.Tiers) != 3 || cfg.Dispatch.Tiers[1] != "silver" {
		t.Fatalf("tiers not parsed: %v", cfg.Dispatch.Tiers)
	}
	if cfg.Dispatch.OfferTimeoutLocal != 15*time.Second {
		t.Fatalf("offer timeout not parsed: %s", cfg.Dispatch.OfferTimeoutLocal)
	}
	if cfg.Dispatch.ScheduleGrace != 10*time.Minute {
		t.Fatalf("schedule grace not parsed: %s", cfg.Dispatch.ScheduleGrace)
	}
	if !cfg.Dispatch.EscalateToAdmin {
		t.Fatalf("escalation flag not parsed")
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers not parsed: %v", cfg.KafkaBrokers)
	}
	if r := cfg.Dispatch.Radii(); len(r) != 3 || r[2] != cfg.Dispatch.MaxRadiusKm {
		t.Fatalf("radii should end at max radius, got %v", r)
	}
}

func TestLoadServerConfigCollectsErrors(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DISPATCH_TOP_N", "zero")
	t.Setenv("OTP_VALIDITY", "soon")

	_, err := LoadServerConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"JWT_SECRET", "DISPATCH_TOP_N", "OTP_VALIDITY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestRadiiCappedAtMax(t *testing.T) {
	d := DefaultDispatchConfig()
	d.MaxRadiusKm = 6
	got := d.Radii()
	want := []float64{2, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestLoadConsumerConfig(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "a:1,b:2")
	t.Setenv("CONSUMER_MAX_RETRIES", "5")
	cfg, err := LoadConsumerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.MaxRetries != 5 || cfg.KafkaGroupID != "location-consumer" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	t.Setenv("CONSUMER_MAX_RETRIES", "0")
	if _, err := LoadConsumerConfig(); err == nil {
		t.Fatal("expected error for zero retries")
	}
}
