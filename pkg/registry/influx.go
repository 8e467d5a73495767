package registry

import (
	"context"
	"strings"

	watchtracker "github.com/httprunner/WatchTracker"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const positionMeasurement = "watch_position"

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink writes each sighting as a watch_position point.
type InfluxSink struct {
	client influxdb2.Client
	writer pointWriter
	bucket string
}

// NewInfluxSink connects to InfluxDB and checks its health once.
func NewInfluxSink(ctx context.Context, url, token, org, bucket string) (*InfluxSink, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, pkgerrors.New("registry: influx url is empty")
	}
	client := influxdb2.NewClient(url, token)
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, pkgerrors.Wrap(err, "registry: influx health check failed")
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		client.Close()
		return nil, pkgerrors.Errorf("registry: influx unhealthy: %s %s", health.Status, msg)
	}
	log.Debug().Str("url", url).Str("bucket", bucket).Msg("registry: influx sink ready")
	return &InfluxSink{client: client, writer: client.WriteAPIBlocking(org, bucket), bucket: bucket}, nil
}

// SightingPoint converts a sighting into an InfluxDB point, timestamped
// with the watch's own fix time when it parsed.
func SightingPoint(s watchtracker.Sighting) *write.Point {
	tags := map[string]string{"device_id": s.DeviceID}
	if s.Position.PositionType != "" {
		tags["position_type"] = s.Position.PositionType
	}
	fields := map[string]any{
		"latitude":  s.Position.Latitude,
		"longitude": s.Position.Longitude,
	}
	if s.Position.Accuracy != nil {
		fields["accuracy"] = *s.Position.Accuracy
	}
	if s.Position.Battery != nil {
		fields["battery"] = *s.Position.Battery
	}
	if s.Position.Speed != nil {
		fields["speed"] = *s.Position.Speed
	}
	if s.Position.Updated != "" {
		fields["updated"] = s.Position.Updated
	}
	ts := s.SeenAt
	if s.Position.UpdatedAt != nil {
		ts = *s.Position.UpdatedAt
	}
	return influxdb2.NewPoint(positionMeasurement, tags, fields, ts)
}

func (s *InfluxSink) See(ctx context.Context, sighting watchtracker.Sighting) error {
	if err := s.writer.WritePoint(ctx, SightingPoint(sighting)); err != nil {
		return pkgerrors.Wrap(err, "registry: influx write failed")
	}
	return nil
}

func (s *InfluxSink) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}

func (s *InfluxSink) Name() string { return "influx:" + s.bucket }
