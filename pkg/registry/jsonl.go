package registry

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	watchtracker "github.com/httprunner/WatchTracker"
	pkgerrors "github.com/pkg/errors"
)

// JSONLSink appends one JSON document per sighting to a file.
type JSONLSink struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
}

type jsonlRecord struct {
	watchtracker.Sighting
	Attributes map[string]any `json:"attributes"`
}

func NewJSONLSink(path string) (*JSONLSink, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, pkgerrors.New("registry: jsonl path is empty")
	}
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "registry: open jsonl file failed")
	}
	return &JSONLSink{path: path, file: f, w: bufio.NewWriter(f)}, nil
}

func (s *JSONLSink) See(_ context.Context, sighting watchtracker.Sighting) error {
	raw, err := json.Marshal(jsonlRecord{Sighting: sighting, Attributes: sighting.Attributes()})
	if err != nil {
		return pkgerrors.Wrap(err, "registry: marshal sighting failed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return pkgerrors.New("registry: jsonl sink closed")
	}
	if _, err := s.w.Write(append(raw, '\n')); err != nil {
		return pkgerrors.Wrap(err, "registry: write jsonl failed")
	}
	return pkgerrors.Wrap(s.w.Flush(), "registry: flush jsonl failed")
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	flushErr := s.w.Flush()
	closeErr := s.file.Close()
	s.file, s.w = nil, nil
	if flushErr != nil {
		return pkgerrors.Wrap(flushErr, "registry: flush jsonl failed")
	}
	return closeErr
}

func (s *JSONLSink) Name() string { return "jsonl:" + s.path }
