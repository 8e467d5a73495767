package watchtracker

import (
	"context"
	"sync"
	"time"

	"github.com/httprunner/WatchTracker/pkg/myki"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultScanInterval matches the service's recommended polling cadence.
const DefaultScanInterval = 300 * time.Second

// ScannerConfig wires a Scanner.
type ScannerConfig struct {
	API       API
	Reporter  Reporter
	Scheduler Scheduler
	Interval  time.Duration
	Clock     func() time.Time
}

// Scanner lists devices once, then polls each of them on every interval.
type Scanner struct {
	api       API
	poller    *Poller
	scheduler Scheduler
	interval  time.Duration

	mu      sync.Mutex
	devices []myki.Device
	stop    func()
	started bool
}

// NewScanner validates cfg; a nil Scheduler defaults to TickerScheduler.
func NewScanner(cfg ScannerConfig) (*Scanner, error) {
	if cfg.API == nil {
		return nil, errors.New("scanner: api is nil")
	}
	poller, err := NewPoller(PollerConfig{API: cfg.API, Reporter: cfg.Reporter, Clock: cfg.Clock})
	if err != nil {
		return nil, err
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	scheduler := cfg.Scheduler
	if scheduler == nil {
		scheduler = TickerScheduler{}
	}
	return &Scanner{
		api:       cfg.API,
		poller:    poller,
		scheduler: scheduler,
		interval:  interval,
	}, nil
}

// Setup fetches the static device set and registers the periodic update.
// A failed listing leaves the set empty; setup itself still succeeds.
func (s *Scanner) Setup(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scanner: already set up")
	}
	s.started = true
	s.mu.Unlock()

	devices := ListDevices(ctx, s.api)
	log.Info().Int("devices", len(devices)).Dur("interval", s.interval).Msg("myki devices found")

	s.mu.Lock()
	s.devices = devices
	s.mu.Unlock()

	stop := s.scheduler.Schedule(ctx, s.interval, func(runCtx context.Context) {
		s.Update(runCtx)
	})
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
	return nil
}

// Update polls every known device once, in order. It returns how many
// devices produced a sighting.
func (s *Scanner) Update(ctx context.Context) int {
	devices := s.Devices()
	log.Debug().Int("devices", len(devices)).Msg("updating device states")
	reported := 0
	for _, device := range devices {
		if ctx != nil && ctx.Err() != nil {
			log.Debug().Err(ctx.Err()).Msg("update interrupted")
			break
		}
		if s.poller.Poll(ctx, device.ID) {
			reported++
		}
	}
	return reported
}

// Devices returns a copy of the device set captured at setup.
func (s *Scanner) Devices() []myki.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]myki.Device, len(s.devices))
	copy(out, s.devices)
	return out
}

func (s *Scanner) DeviceIDs() []string {
	devices := s.Devices()
	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
	}
	return ids
}

// Interval returns the effective scan interval.
func (s *Scanner) Interval() time.Duration {
	return s.interval
}

// Stop cancels the periodic update and waits for a running cycle. Safe to
// call more than once.
func (s *Scanner) Stop() {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}
