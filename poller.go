package watchtracker

import (
	"context"
	"strings"
	"time"

	"github.com/httprunner/WatchTracker/pkg/myki"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// PollerConfig wires a Poller.
type PollerConfig struct {
	API      PositionAPI
	Reporter Reporter
	// Clock stamps Sighting.SeenAt; defaults to time.Now.
	Clock func() time.Time
}

// Poller fetches one device's position and hands it to the reporter.
type Poller struct {
	api      PositionAPI
	reporter Reporter
	clock    func() time.Time
}

// NewPoller validates the collaborators.
func NewPoller(cfg PollerConfig) (*Poller, error) {
	if cfg.API == nil {
		return nil, errors.New("poller: position api is nil")
	}
	if cfg.Reporter == nil {
		return nil, errors.New("poller: reporter is nil")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Poller{api: cfg.API, reporter: cfg.Reporter, clock: clock}, nil
}

// Poll performs one request for deviceID. It returns false when no sighting
// could be built; reporter failures are logged but still count as polled.
func (p *Poller) Poll(ctx context.Context, deviceID string) bool {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		log.Warn().Msg("myki: skip device without id")
		return false
	}
	log.Debug().Str("device_id", deviceID).Msg("getting information for device")
	current, err := p.api.CurrentData(ctx, deviceID)
	if err != nil {
		logPollError(deviceID, err)
		return false
	}
	log.Debug().Str("device_id", deviceID).Msg("information received")

	sighting := Sighting{
		DeviceID: deviceID,
		Position: ReportFromCurrent(current),
		SeenAt:   p.clock().UTC(),
	}
	if err := p.reporter.See(ctx, sighting); err != nil {
		log.Error().Err(err).Str("device_id", deviceID).Msg("report sighting failed")
	}
	return true
}

func logPollError(deviceID string, err error) {
	var svcErr *myki.ServiceError
	switch {
	case myki.IsTransport(err):
		log.Error().Err(err).Str("device_id", deviceID).Msg("myki: connection error")
	case errors.As(err, &svcErr):
		log.Error().Str("device_id", deviceID).Int("http_status", svcErr.StatusCode).Msg("myki: no response for device")
	case myki.IsData(err):
		log.Error().Err(err).Str("device_id", deviceID).Msg("myki: missing info for device")
	default:
		log.Error().Err(err).Str("device_id", deviceID).Msg("myki: poll device failed")
	}
}
