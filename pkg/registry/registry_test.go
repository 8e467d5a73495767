package registry

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	watchtracker "github.com/httprunner/WatchTracker"
	"github.com/httprunner/WatchTracker/internal/config"
)

func float(v float64) *float64 { return &v }

func sampleSighting(id string, lat, lon float64) watchtracker.Sighting {
	return watchtracker.Sighting{
		DeviceID: id,
		Position: watchtracker.PositionReport{
			Latitude:     lat,
			Longitude:    lon,
			Accuracy:     float(5),
			PositionType: "gps",
			Updated:      "2024-05-01T10:00:00",
			Battery:      float(80),
			Speed:        float(0),
		},
		SeenAt: time.UnixMilli(1700000000123).UTC(),
	}
}

type failingSink struct {
	seen int
}

func (f *failingSink) See(context.Context, watchtracker.Sighting) error {
	f.seen++
	return errors.New("boom")
}
func (f *failingSink) Close() error { return errors.New("close boom") }
func (f *failingSink) Name() string { return "failing" }

func TestNewManagerRequiresSink(t *testing.T) {
	if _, err := NewManager("p", nil); err == nil {
		t.Fatalf("expected error without sinks")
	}
}

func TestManagerFansOutAndStampsProvider(t *testing.T) {
	mem := NewMemoryRegistry()
	bad := &failingSink{}
	manager, err := NewManager("host-1", bad, mem)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if manager.Name() != "failing,memory" {
		t.Fatalf("unexpected name %q", manager.Name())
	}

	err = manager.See(context.Background(), sampleSighting("w1", 1, 2))
	if err == nil || !strings.Contains(err.Error(), "failing write failed") {
		t.Fatalf("expected joined sink error, got %v", err)
	}
	if bad.seen != 1 {
		t.Fatalf("failing sink not called")
	}
	got, ok := mem.Lookup("w1")
	if !ok {
		t.Fatalf("memory sink must still record the sighting")
	}
	if got.ProviderUUID != "host-1" {
		t.Fatalf("expected provider uuid stamp, got %q", got.ProviderUUID)
	}

	explicit := sampleSighting("w2", 3, 4)
	explicit.ProviderUUID = "other"
	_ = manager.See(context.Background(), explicit)
	if got, _ := mem.Lookup("w2"); got.ProviderUUID != "other" {
		t.Fatalf("explicit provider uuid overwritten: %q", got.ProviderUUID)
	}

	if err := manager.Close(); err == nil {
		t.Fatalf("expected close error from failing sink")
	}
}

func TestMemoryRegistryKeepsLatest(t *testing.T) {
	mem := NewMemoryRegistry()
	ctx := context.Background()
	_ = mem.See(ctx, sampleSighting("b", 1, 1))
	_ = mem.See(ctx, sampleSighting("a", 2, 2))
	_ = mem.See(ctx, sampleSighting("b", 3, 3))
	_ = mem.See(ctx, sampleSighting(" ", 9, 9))

	list := mem.List()
	if len(list) != 2 || list[0].DeviceID != "a" || list[1].DeviceID != "b" {
		t.Fatalf("unexpected list %#v", list)
	}
	if lat, _ := list[1].GPS(); lat != 3 {
		t.Fatalf("expected latest sighting for b, got lat=%v", lat)
	}
	if _, ok := mem.Lookup("missing"); ok {
		t.Fatalf("unexpected hit for missing device")
	}
}

func TestSQLiteSinkStoresHistoryAndLatest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sightings.sqlite")
	sink, err := NewSQLiteSink(path)
	if err != nil {
		t.Fatalf("open sqlite sink: %v", err)
	}
	t.Cleanup(func() { sink.Close() })
	ctx := context.Background()

	first := sampleSighting("w1", 10, 20)
	second := sampleSighting("w1", 11, 21)
	second.SeenAt = first.SeenAt.Add(time.Minute)
	second.Position.Speed = nil
	second.ProviderUUID = "host"
	for _, s := range []watchtracker.Sighting{first, second, sampleSighting("w2", 1, 1)} {
		if err := sink.See(ctx, s); err != nil {
			t.Fatalf("see: %v", err)
		}
	}

	latest, err := sink.LatestSighting(ctx, "w1")
	if err != nil || latest == nil {
		t.Fatalf("latest sighting: %v %v", latest, err)
	}
	if latest.Position.Latitude != 11 || latest.Position.Speed != nil || latest.ProviderUUID != "host" {
		t.Fatalf("unexpected latest %#v", latest)
	}
	if !latest.SeenAt.Equal(second.SeenAt) {
		t.Fatalf("unexpected seen at %v", latest.SeenAt)
	}
	if latest.Position.Battery == nil || *latest.Position.Battery != 80 {
		t.Fatalf("unexpected battery %v", latest.Position.Battery)
	}

	history, err := sink.History(ctx, "w1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Position.Latitude != 11 || history[1].Position.Latitude != 10 {
		t.Fatalf("unexpected history %#v", history)
	}

	missing, err := sink.LatestSighting(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unseen device, got %v %v", missing, err)
	}
}

func TestJSONLSinkAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "sightings.jsonl")
	sink, err := NewJSONLSink(path)
	if err != nil {
		t.Fatalf("open jsonl sink: %v", err)
	}
	ctx := context.Background()
	_ = sink.See(ctx, sampleSighting("w1", 1, 2))
	_ = sink.See(ctx, sampleSighting("w2", 3, 4))
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sink.See(ctx, sampleSighting("w3", 0, 0)); err == nil {
		t.Fatalf("expected error after close")
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var row map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			t.Fatalf("invalid json line %q: %v", scanner.Text(), err)
		}
		lines = append(lines, row)
	}
	if len(lines) != 2 || lines[0]["device_id"] != "w1" || lines[1]["device_id"] != "w2" {
		t.Fatalf("unexpected lines %#v", lines)
	}
	attrs, ok := lines[0]["attributes"].(map[string]any)
	if !ok || attrs["type"] != "gps" {
		t.Fatalf("expected attributes in line, got %#v", lines[0]["attributes"])
	}
}

func TestNewFromConfigMemoryOnly(t *testing.T) {
	set, err := NewFromConfig(context.Background(), config.Sinks{DisableSQLite: true}, "host")
	if err != nil {
		t.Fatalf("new from config: %v", err)
	}
	defer set.Close()
	if set.SQLite != nil {
		t.Fatalf("sqlite must be disabled")
	}
	if set.Manager.Name() != "memory" {
		t.Fatalf("unexpected sinks %q", set.Manager.Name())
	}
	_ = set.Manager.See(context.Background(), sampleSighting("w1", 1, 2))
	if got, ok := set.Memory.Lookup("w1"); !ok || got.ProviderUUID != "host" {
		t.Fatalf("memory registry not fed: %#v", got)
	}
}

func TestNewFromConfigOpensFileSinks(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Sinks{
		SQLitePath: filepath.Join(dir, "db.sqlite"),
		JSONLPath:  filepath.Join(dir, "out.jsonl"),
	}
	set, err := NewFromConfig(context.Background(), cfg, "")
	if err != nil {
		t.Fatalf("new from config: %v", err)
	}
	defer set.Close()
	if set.SQLite == nil {
		t.Fatalf("expected sqlite sink")
	}
	if name := set.Manager.Name(); !strings.Contains(name, "sqlite:") || !strings.Contains(name, "jsonl:") {
		t.Fatalf("unexpected sinks %q", name)
	}
}
