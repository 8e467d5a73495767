package config

import (
	"strings"
	"testing"
	"time"
)

func TestTrackerFromEnvDefaults(t *testing.T) {
	t.Setenv(EnvUsername, "alice")
	t.Setenv(EnvPassword, "secret")
	t.Setenv(EnvScanInterval, "")
	t.Setenv(EnvBaseURL, "")

	cfg := TrackerFromEnv()
	if cfg.ScanInterval != DefaultScanInterval {
		t.Fatalf("expected default interval, got %v", cfg.ScanInterval)
	}
	if cfg.BaseURL != DefaultBaseURL {
		t.Fatalf("expected default base url, got %q", cfg.BaseURL)
	}
	if cfg.HTTPTimeout != 0 {
		t.Fatalf("expected no http timeout, got %v", cfg.HTTPTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestTrackerFromEnvSecondsInterval(t *testing.T) {
	t.Setenv(EnvScanInterval, "60")
	if got := TrackerFromEnv().ScanInterval; got != time.Minute {
		t.Fatalf("expected 1m, got %v", got)
	}
}

func TestTrackerValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Tracker
		want string
	}{
		{"missing username", Tracker{Password: "p", ScanInterval: time.Second}, "username"},
		{"missing password", Tracker{Username: "u", ScanInterval: time.Second}, "password"},
		{"zero interval", Tracker{Username: "u", Password: "p"}, "scan interval"},
		{"negative timeout", Tracker{Username: "u", Password: "p", ScanInterval: time.Second, HTTPTimeout: -time.Second}, "timeout"},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestSinksFromEnvRedisTTLFollowsInterval(t *testing.T) {
	t.Setenv(EnvRedisTTL, "")
	t.Setenv(EnvInfluxURL, "")
	t.Setenv(EnvSightingBitable, "")
	sinks := SinksFromEnv(time.Minute)
	if sinks.RedisTTL != 3*time.Minute {
		t.Fatalf("expected ttl 3m, got %v", sinks.RedisTTL)
	}
	if sinks.InfluxEnabled() || sinks.FeishuEnabled() {
		t.Fatalf("expected optional sinks disabled without env")
	}
}
