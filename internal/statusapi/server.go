package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	watchtracker "github.com/httprunner/WatchTracker"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// LatestStore serves the most recent sighting per device.
type LatestStore interface {
	Lookup(deviceID string) (watchtracker.Sighting, bool)
	List() []watchtracker.Sighting
}

// HistoryStore is consulted when LatestStore has not seen a device during
// this process lifetime.
type HistoryStore interface {
	LatestSighting(ctx context.Context, deviceID string) (*watchtracker.Sighting, error)
}

// DeviceLister reports which device ids the scanner is polling.
type DeviceLister interface {
	DeviceIDs() []string
}

type Dependencies struct {
	Addr    string
	Latest  LatestStore
	History HistoryStore
	Devices DeviceLister
}

type Server struct {
	httpServer *http.Server
	latest     LatestStore
	history    HistoryStore
	devices    DeviceLister
	started    time.Time
}

func NewServer(d Dependencies) *Server {
	s := &Server{
		latest:  d.Latest,
		history: d.History,
		devices: d.Devices,
		started: time.Now(),
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/devices", s.handleListDevices).Methods(http.MethodGet)
	router.HandleFunc("/devices/{id}", s.handleGetDevice).Methods(http.MethodGet)

	handler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet},
	}).Handler(router)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           loggingMiddleware(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.httpServer.Addr).Msg("status api listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "status api serve failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "status api shutdown failed")
	}
	return nil
}

type healthResponse struct {
	Status     string   `json:"status"`
	UptimeSecs int64    `json:"uptime_secs"`
	Devices    []string `json:"devices"`
	Seen       int      `json:"seen"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		UptimeSecs: int64(time.Since(s.started).Seconds()),
		Devices:    []string{},
	}
	if s.devices != nil {
		resp.Devices = append(resp.Devices, s.devices.DeviceIDs()...)
	}
	if s.latest != nil {
		resp.Seen = len(s.latest.List())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	sightings := []watchtracker.Sighting{}
	if s.latest != nil {
		sightings = append(sightings, s.latest.List()...)
	}
	writeJSON(w, http.StatusOK, sightings)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["id"])
	if s.latest != nil {
		if sighting, ok := s.latest.Lookup(id); ok {
			writeJSON(w, http.StatusOK, sighting)
			return
		}
	}
	if s.history != nil {
		sighting, err := s.history.LatestSighting(r.Context(), id)
		if err != nil {
			log.Error().Err(err).Str("device_id", id).Msg("status api: history lookup failed")
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
		if sighting != nil {
			writeJSON(w, http.StatusOK, sighting)
			return
		}
	}
	writeError(w, http.StatusNotFound, "not_found", "device has not been seen")
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("status api: encode response failed")
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("from", r.RemoteAddr).
			Dur("dur", time.Since(start)).
			Msg("status api request")
	})
}
