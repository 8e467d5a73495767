package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	watchtracker "github.com/httprunner/WatchTracker"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Sink records sightings somewhere.
type Sink interface {
	See(ctx context.Context, sighting watchtracker.Sighting) error
	Close() error
	Name() string
}

// Manager fans sightings out to every configured sink. It implements
// watchtracker.Reporter.
type Manager struct {
	sinks        []Sink
	name         string
	providerUUID string
}

// NewManager builds a manager over sinks; providerUUID is stamped on
// sightings that do not carry one.
func NewManager(providerUUID string, sinks ...Sink) (*Manager, error) {
	filtered := make([]Sink, 0, len(sinks))
	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		filtered = append(filtered, s)
		names = append(names, s.Name())
	}
	if len(filtered) == 0 {
		return nil, pkgerrors.New("registry: no sinks enabled")
	}
	return &Manager{
		sinks:        filtered,
		name:         strings.Join(names, ","),
		providerUUID: strings.TrimSpace(providerUUID),
	}, nil
}

// See forwards the sighting to all sinks; one failing sink does not stop
// the others.
func (m *Manager) See(ctx context.Context, sighting watchtracker.Sighting) error {
	if sighting.ProviderUUID == "" {
		sighting.ProviderUUID = m.providerUUID
	}
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.See(ctx, sighting); err != nil {
			log.Warn().Err(err).Str("sink", sink.Name()).Str("device_id", sighting.DeviceID).Msg("registry: sink write failed")
			errs = append(errs, pkgerrors.Wrap(err, fmt.Sprintf("%s write failed", sink.Name())))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) Close() error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, pkgerrors.Wrap(err, fmt.Sprintf("%s close failed", sink.Name())))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) Name() string {
	if m == nil || m.name == "" {
		return "registry"
	}
	return m.name
}
