package myki

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultBaseURL is the public Myki watch service.
	DefaultBaseURL = "https://my.myki.watch"

	listPath    = "/api/watch"
	appDataPath = "/api/watch/app-data"
)

// Config controls how the client reaches the service.
type Config struct {
	BaseURL  string
	Username string
	Password string
	// Timeout of 0 keeps the transport default.
	Timeout time.Duration
	// HTTPClient overrides the underlying client (tests, proxies).
	HTTPClient *http.Client
}

// Client talks to the Myki watch REST API with HTTP basic auth.
type Client struct {
	rest     *resty.Client
	baseURL  string
	username string
}

// New builds a client. Username and password are required.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Username) == "" || cfg.Password == "" {
		return nil, errors.New("myki: username and password are required")
	}
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	var rest *resty.Client
	if cfg.HTTPClient != nil {
		rest = resty.NewWithClient(cfg.HTTPClient)
	} else {
		rest = resty.New()
	}
	rest.SetBaseURL(baseURL).
		SetBasicAuth(cfg.Username, cfg.Password).
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{})
	if cfg.Timeout > 0 {
		rest.SetTimeout(cfg.Timeout)
	}
	return &Client{rest: rest, baseURL: baseURL, username: cfg.Username}, nil
}

// BaseURL returns the normalized service root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListDevices fetches the account's watches from /api/watch.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	const op = "list devices"
	body, status, err := c.get(ctx, listPath, nil)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if status != http.StatusOK {
		return nil, &ServiceError{Op: op, StatusCode: status, Message: truncateString(strings.TrimSpace(string(body)), 512)}
	}
	var parsed listEnvelope
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &DataError{Op: op, Reason: "decode response", Err: errors.Wrap(err, "unmarshal device list")}
	}
	if !parsed.IsOK {
		return nil, &ServiceError{Op: op, StatusCode: status, Message: strings.TrimSpace(parsed.Err)}
	}
	devices := parsed.Data.AllW
	if devices == nil {
		devices = []Device{}
	}
	log.Debug().
		Str("path", listPath).
		Int("devices", len(devices)).
		Msg("myki devices listed")
	return devices, nil
}

// CurrentData fetches /api/watch/app-data for one device and returns its
// non-empty data.current object with a position that has coordinates.
func (c *Client) CurrentData(ctx context.Context, deviceID string) (*Current, error) {
	const op = "app data"
	deviceID = strings.TrimSpace(deviceID)
	body, status, err := c.get(ctx, appDataPath, map[string]string{"id": deviceID})
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if status != http.StatusOK {
		return nil, &ServiceError{Op: op, StatusCode: status, Message: truncateString(strings.TrimSpace(string(body)), 512)}
	}
	current, err := decodeCurrent(body)
	if err != nil {
		return nil, &DataError{Op: op, Reason: "device " + deviceID, Err: err}
	}
	return current, nil
}

func decodeCurrent(body []byte) (*Current, error) {
	var parsed appDataEnvelope
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	raw := parsed.Data.Current
	var fields map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil || len(fields) == 0 {
		return nil, errors.New("missing data.current")
	}
	var current Current
	if err := json.Unmarshal(raw, &current); err != nil {
		return nil, errors.Wrap(err, "decode data.current")
	}
	if current.Position == nil {
		return nil, errors.New("missing data.current.position")
	}
	if _, ok := current.Position.Latitude.Float64(); !ok {
		return nil, errors.New("missing position.latitude")
	}
	if _, ok := current.Position.Longitude.Float64(); !ok {
		return nil, errors.New("missing position.longitude")
	}
	return &current, nil
}

func (c *Client) get(ctx context.Context, path string, query map[string]string) ([]byte, int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req := c.rest.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	log.Debug().
		Str("method", http.MethodGet).
		Str("path", path).
		Str("device_id", query["id"]).
		Str("username", c.username).
		Msg("myki request")
	resp, err := req.Get(path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "GET %s", path)
	}
	log.Debug().
		Str("method", http.MethodGet).
		Str("path", path).
		Int("http_status", resp.StatusCode()).
		Dur("elapsed", resp.Time()).
		Msg("myki response")
	return resp.Body(), resp.StatusCode(), nil
}

// restyLogger routes resty's internal warnings through zerolog.
type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...interface{}) {
	log.Error().Msgf("resty: "+strings.TrimSpace(format), v...)
}

func (restyLogger) Warnf(format string, v ...interface{}) {
	log.Warn().Msgf("resty: "+strings.TrimSpace(format), v...)
}

func (restyLogger) Debugf(format string, v ...interface{}) {
	log.Debug().Msgf("resty: "+strings.TrimSpace(format), v...)
}
