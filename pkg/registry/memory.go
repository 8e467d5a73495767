package registry

import (
	"context"
	"sort"
	"strings"
	"sync"

	watchtracker "github.com/httprunner/WatchTracker"
)

// MemoryRegistry keeps the latest sighting per device for the process lifetime.
type MemoryRegistry struct {
	mu     sync.RWMutex
	latest map[string]watchtracker.Sighting
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{latest: make(map[string]watchtracker.Sighting)}
}

func (r *MemoryRegistry) See(_ context.Context, sighting watchtracker.Sighting) error {
	id := strings.TrimSpace(sighting.DeviceID)
	if id == "" {
		return nil
	}
	r.mu.Lock()
	r.latest[id] = sighting
	r.mu.Unlock()
	return nil
}

// Lookup returns the latest sighting for deviceID.
func (r *MemoryRegistry) Lookup(deviceID string) (watchtracker.Sighting, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.latest[strings.TrimSpace(deviceID)]
	return s, ok
}

// List returns all latest sightings ordered by device id.
func (r *MemoryRegistry) List() []watchtracker.Sighting {
	r.mu.RLock()
	out := make([]watchtracker.Sighting, 0, len(r.latest))
	for _, s := range r.latest {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func (r *MemoryRegistry) Close() error { return nil }

func (r *MemoryRegistry) Name() string { return "memory" }
