package watchtracker

import (
	"context"
	"time"

	"github.com/httprunner/WatchTracker/pkg/myki"
)

// PositionReport is what one successful poll learned about a device.
type PositionReport struct {
	Latitude     float64    `json:"latitude"`
	Longitude    float64    `json:"longitude"`
	Accuracy     *float64   `json:"accuracy,omitempty"`
	PositionType string     `json:"position_type,omitempty"`
	Updated      string     `json:"updated,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
	Battery      *float64   `json:"battery,omitempty"`
	Speed        *float64   `json:"speed,omitempty"`
}

// ReportFromCurrent maps the app-data `current` object onto a PositionReport.
// The caller guarantees position and coordinates are present.
func ReportFromCurrent(current *myki.Current) PositionReport {
	lat, _ := current.Position.Latitude.Float64()
	lon, _ := current.Position.Longitude.Float64()
	report := PositionReport{
		Latitude:     lat,
		Longitude:    lon,
		Accuracy:     current.Position.Accuracy.Ptr(),
		PositionType: string(current.Position.Type),
		Updated:      string(current.TakenAt),
		Battery:      current.Battery.Ptr(),
		Speed:        current.Speed.Ptr(),
	}
	if ts, ok := current.TakenAtTime(); ok {
		report.UpdatedAt = &ts
	}
	return report
}

// Sighting is the payload handed to the host registry for one device.
type Sighting struct {
	DeviceID     string         `json:"device_id"`
	Position     PositionReport `json:"position"`
	SeenAt       time.Time      `json:"seen_at"`
	ProviderUUID string         `json:"provider_uuid,omitempty"`
}

// GPS returns the (latitude, longitude) pair.
func (s Sighting) GPS() (float64, float64) {
	return s.Position.Latitude, s.Position.Longitude
}

// Attributes returns the extra state attributes forwarded with a sighting.
func (s Sighting) Attributes() map[string]any {
	attrs := map[string]any{
		"type":    s.Position.PositionType,
		"updated": s.Position.Updated,
	}
	if s.Position.Speed != nil {
		attrs["speed"] = *s.Position.Speed
	} else {
		attrs["speed"] = nil
	}
	return attrs
}

// Reporter is the host "see device" capability.
type Reporter interface {
	See(ctx context.Context, sighting Sighting) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, sighting Sighting) error

func (f ReporterFunc) See(ctx context.Context, sighting Sighting) error {
	return f(ctx, sighting)
}
