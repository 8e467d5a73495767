package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func resetRootFlags(t *testing.T) {
	t.Helper()
	rootUsername, rootPassword, rootBaseURL, rootScanInterval = "", "", "", ""
	t.Cleanup(func() {
		rootUsername, rootPassword, rootBaseURL, rootScanInterval = "", "", "", ""
	})
}

func TestLoadTrackerFlagsOverrideEnv(t *testing.T) {
	resetRootFlags(t)
	t.Setenv("MYKI_USERNAME", "env-user")
	t.Setenv("MYKI_PASSWORD", "env-pass")
	t.Setenv("MYKI_SCAN_INTERVAL", "60")
	t.Setenv("MYKI_BASE_URL", "")

	rootUsername = "flag-user"
	rootScanInterval = "2m"
	cfg, err := loadTracker()
	if err != nil {
		t.Fatalf("load tracker: %v", err)
	}
	if cfg.Username != "flag-user" || cfg.Password != "env-pass" {
		t.Fatalf("unexpected credentials %q/%q", cfg.Username, cfg.Password)
	}
	if cfg.ScanInterval != 2*time.Minute {
		t.Fatalf("unexpected interval %v", cfg.ScanInterval)
	}
	if cfg.BaseURL != "https://my.myki.watch" {
		t.Fatalf("unexpected base url %q", cfg.BaseURL)
	}
}

func TestLoadTrackerRejectsMissingCredentials(t *testing.T) {
	resetRootFlags(t)
	t.Setenv("MYKI_USERNAME", "")
	t.Setenv("MYKI_PASSWORD", "")
	if _, err := loadTracker(); err == nil || !strings.Contains(err.Error(), "username") {
		t.Fatalf("expected username error, got %v", err)
	}

	rootUsername, rootPassword, rootScanInterval = "u", "p", "soon"
	if _, err := loadTracker(); err == nil || !strings.Contains(err.Error(), "--scan-interval") {
		t.Fatalf("expected interval error, got %v", err)
	}
}

func TestDevicesAndPollCommands(t *testing.T) {
	resetRootFlags(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/watch":
			_, _ = w.Write([]byte(`{"isok":true,"data":{"allw":[{"id":101},{"id":"w2"}]}}`))
		case "/api/watch/app-data":
			_, _ = w.Write([]byte(`{"data":{"current":{"position":{"latitude":1.5,"longitude":2.5,"type":"gps"},"takenat":"t1","battery":50}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()
	t.Setenv("MYKI_USERNAME", "u")
	t.Setenv("MYKI_PASSWORD", "p")
	t.Setenv("MYKI_BASE_URL", server.URL)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"devices"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("devices: %v", err)
	}
	if got := out.String(); got != "101\nw2\n" {
		t.Fatalf("unexpected devices output %q", got)
	}

	out.Reset()
	rootCmd.SetArgs([]string{"poll", "--id", "101"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got := out.String(); !strings.Contains(got, `"device_id": "101"`) || !strings.Contains(got, `"latitude": 1.5`) {
		t.Fatalf("unexpected poll output %q", got)
	}
}
