package watchtracker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/httprunner/WatchTracker/pkg/myki"
)

type stubAPI struct {
	mu       sync.Mutex
	devices  []myki.Device
	listErr  error
	current  map[string]*myki.Current
	errs     map[string]error
	polled   []string
	listings int
}

func (s *stubAPI) ListDevices(ctx context.Context) ([]myki.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings++
	return s.devices, s.listErr
}

func (s *stubAPI) CurrentData(ctx context.Context, deviceID string) (*myki.Current, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polled = append(s.polled, deviceID)
	if err := s.errs[deviceID]; err != nil {
		return nil, err
	}
	if cur, ok := s.current[deviceID]; ok {
		return cur, nil
	}
	return nil, &myki.DataError{Op: "app data", Reason: "missing data.current"}
}

type recordingReporter struct {
	mu        sync.Mutex
	sightings []Sighting
	err       error
}

func (r *recordingReporter) See(ctx context.Context, s Sighting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sightings = append(r.sightings, s)
	return r.err
}

func (r *recordingReporter) all() []Sighting {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sighting(nil), r.sightings...)
}

func fixedClock() time.Time { return time.Unix(1700000000, 0) }

func sampleCurrent(lat, lon float64) *myki.Current {
	return &myki.Current{
		Position: &myki.Position{
			Latitude:  myki.NewNumber(lat),
			Longitude: myki.NewNumber(lon),
			Accuracy:  myki.NewNumber(5),
			Type:      "gps",
		},
		TakenAt: "t1",
		Battery: myki.NewNumber(80),
		Speed:   myki.NewNumber(0),
	}
}

func TestNewPollerRequiresCollaborators(t *testing.T) {
	if _, err := NewPoller(PollerConfig{Reporter: &recordingReporter{}}); err == nil {
		t.Fatalf("expected error without api")
	}
	if _, err := NewPoller(PollerConfig{API: &stubAPI{}}); err == nil {
		t.Fatalf("expected error without reporter")
	}
}

func TestPollForwardsSighting(t *testing.T) {
	api := &stubAPI{current: map[string]*myki.Current{"w1": sampleCurrent(10.0, 20.0)}}
	reporter := &recordingReporter{}
	poller, err := NewPoller(PollerConfig{API: api, Reporter: reporter, Clock: fixedClock})
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}

	if !poller.Poll(context.Background(), "w1") {
		t.Fatalf("expected poll success")
	}
	got := reporter.all()
	if len(got) != 1 {
		t.Fatalf("expected one sighting, got %d", len(got))
	}
	s := got[0]
	if s.DeviceID != "w1" {
		t.Fatalf("unexpected device %q", s.DeviceID)
	}
	if lat, lon := s.GPS(); lat != 10.0 || lon != 20.0 {
		t.Fatalf("unexpected gps (%v, %v)", lat, lon)
	}
	if s.Position.Battery == nil || *s.Position.Battery != 80 {
		t.Fatalf("unexpected battery %v", s.Position.Battery)
	}
	if s.Position.Accuracy == nil || *s.Position.Accuracy != 5 {
		t.Fatalf("unexpected accuracy %v", s.Position.Accuracy)
	}
	attrs := s.Attributes()
	if attrs["type"] != "gps" || attrs["updated"] != "t1" || attrs["speed"] != 0.0 {
		t.Fatalf("unexpected attributes %#v", attrs)
	}
	if s.Position.UpdatedAt != nil {
		t.Fatalf("expected unparsed takenat to leave UpdatedAt nil")
	}
	if !s.SeenAt.Equal(fixedClock()) {
		t.Fatalf("unexpected seen at %v", s.SeenAt)
	}
}

func TestPollFailuresForwardNothing(t *testing.T) {
	api := &stubAPI{errs: map[string]error{
		"offline": &myki.TransportError{Op: "app data", Err: errors.New("dial tcp: refused")},
		"denied":  &myki.ServiceError{Op: "app data", StatusCode: http.StatusForbidden},
	}}
	reporter := &recordingReporter{}
	poller, _ := NewPoller(PollerConfig{API: api, Reporter: reporter})

	for _, id := range []string{"offline", "denied", "empty", "  "} {
		if poller.Poll(context.Background(), id) {
			t.Fatalf("%q: expected poll failure", id)
		}
	}
	if n := len(reporter.all()); n != 0 {
		t.Fatalf("expected no sightings, got %d", n)
	}
	if len(api.polled) != 3 {
		t.Fatalf("blank id must not hit the api, polled=%v", api.polled)
	}
}

func TestPollReporterErrorStillCountsAsPolled(t *testing.T) {
	api := &stubAPI{current: map[string]*myki.Current{"w1": sampleCurrent(1, 2)}}
	reporter := &recordingReporter{err: errors.New("registry down")}
	poller, _ := NewPoller(PollerConfig{API: api, Reporter: reporter})
	if !poller.Poll(context.Background(), "w1") {
		t.Fatalf("expected poll success despite reporter error")
	}
}

func TestPollIsIdempotent(t *testing.T) {
	api := &stubAPI{current: map[string]*myki.Current{"w1": sampleCurrent(10, 20)}}
	reporter := &recordingReporter{}
	poller, _ := NewPoller(PollerConfig{API: api, Reporter: reporter, Clock: fixedClock})
	poller.Poll(context.Background(), "w1")
	poller.Poll(context.Background(), "w1")
	got := reporter.all()
	if len(got) != 2 {
		t.Fatalf("expected two sightings, got %d", len(got))
	}
	if !reflect.DeepEqual(got[0], got[1]) {
		t.Fatalf("expected identical sightings:\n%#v\n%#v", got[0], got[1])
	}
}

func TestPollAgainstHTTPService(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("id") {
		case "w1":
			_, _ = io.WriteString(w, `{"data":{"current":{"position":{"latitude":10.0,"longitude":20.0,"accuracy":5,"type":"gps"},"takenat":"t1","battery":80,"speed":0}}}`)
		case "noisy":
			_, _ = io.WriteString(w, `{"data":{"current":{"position":{"latitude":1.0,"longitude":2.0},"battery":"high","speed":false}}}`)
		case "gone":
			_, _ = io.WriteString(w, `{"data":{}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client, err := myki.New(myki.Config{BaseURL: server.URL, Username: "u", Password: "p", HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	reporter := &recordingReporter{}
	poller, _ := NewPoller(PollerConfig{API: client, Reporter: reporter, Clock: fixedClock})

	if !poller.Poll(context.Background(), "w1") {
		t.Fatalf("expected success for w1")
	}
	if poller.Poll(context.Background(), "gone") {
		t.Fatalf("expected failure for missing current")
	}
	if poller.Poll(context.Background(), "unknown") {
		t.Fatalf("expected failure for 404")
	}
	got := reporter.all()
	if len(got) != 1 {
		t.Fatalf("expected exactly one report, got %d", len(got))
	}
	lat, lon := got[0].GPS()
	if lat != 10.0 || lon != 20.0 || *got[0].Position.Battery != 80 || *got[0].Position.Accuracy != 5 {
		t.Fatalf("unexpected sighting %#v", got[0])
	}

	if !poller.Poll(context.Background(), "noisy") {
		t.Fatalf("expected success when optional fields are malformed")
	}
	got = reporter.all()
	if len(got) != 2 || got[1].Position.Battery != nil || got[1].Position.Speed != nil {
		t.Fatalf("unexpected sightings %#v", got)
	}
}
