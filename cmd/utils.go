package main

import (
	"strings"

	"github.com/httprunner/WatchTracker/internal/config"
	"github.com/httprunner/WatchTracker/internal/env"
	"github.com/httprunner/WatchTracker/pkg/myki"
	"github.com/pkg/errors"
)

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// loadTracker merges root flags over MYKI_* environment values.
func loadTracker() (config.Tracker, error) {
	cfg := config.TrackerFromEnv()
	cfg.Username = firstNonEmpty(rootUsername, cfg.Username)
	cfg.Password = firstNonEmpty(rootPassword, cfg.Password)
	cfg.BaseURL = firstNonEmpty(rootBaseURL, cfg.BaseURL, config.DefaultBaseURL)
	if raw := strings.TrimSpace(rootScanInterval); raw != "" {
		interval, err := env.ParseDuration(raw)
		if err != nil {
			return cfg, errors.Wrapf(err, "invalid --scan-interval %q", raw)
		}
		cfg.ScanInterval = interval
	}
	return cfg, cfg.Validate()
}

func newMykiClient(cfg config.Tracker) (*myki.Client, error) {
	return myki.New(myki.Config{
		BaseURL:  cfg.BaseURL,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.HTTPTimeout,
	})
}
