package myki

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Device is one watch from the account's device list. Only ID is
// interpreted; everything else the service sends is kept in Extra.
type Device struct {
	ID    string
	Extra map[string]any
}

func (d *Device) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		return err
	}
	d.ID = stringifyJSONID(raw["id"])
	delete(raw, "id")
	if len(raw) == 0 {
		raw = nil
	}
	d.Extra = raw
	return nil
}

func (d Device) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Extra)+1)
	for k, v := range d.Extra {
		out[k] = v
	}
	out["id"] = d.ID
	return json.Marshal(out)
}

// Number decodes JSON numbers and finite numeric strings. Any other value
// leaves it unset instead of failing the surrounding decode.
type Number struct {
	value float64
	valid bool
}

// NewNumber returns a set Number.
func NewNumber(v float64) Number {
	return Number{value: v, valid: true}
}

func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	switch val := v.(type) {
	case float64:
		*n = Number{value: val, valid: true}
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil && !math.IsNaN(parsed) && !math.IsInf(parsed, 0) {
			*n = Number{value: parsed, valid: true}
		}
	}
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.value)
}

// Float64 returns the value and whether it was present.
func (n Number) Float64() (float64, bool) {
	return n.value, n.valid
}

// Ptr returns nil when unset.
func (n Number) Ptr() *float64 {
	if !n.valid {
		return nil
	}
	v := n.value
	return &v
}

// Text decodes strings and numbers as a trimmed string; null yields "".
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	var v any
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&v); err != nil {
		return err
	}
	*t = Text(stringifyJSONID(v))
	return nil
}

// Position is the `position` object inside `data.current`.
type Position struct {
	Latitude  Number `json:"latitude"`
	Longitude Number `json:"longitude"`
	Type      Text   `json:"type"`
	Accuracy  Number `json:"accuracy"`
}

// Current is the `data.current` object of the app-data endpoint.
type Current struct {
	Position *Position `json:"position"`
	TakenAt  Text      `json:"takenat"`
	Battery  Number    `json:"battery"`
	Speed    Number    `json:"speed"`
}

var takenAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// TakenAtTime parses takenat when it is a known timestamp layout or unix seconds.
func (c Current) TakenAtTime() (time.Time, bool) {
	raw := strings.TrimSpace(string(c.TakenAt))
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range takenAtLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC(), true
	}
	return time.Time{}, false
}

type listEnvelope struct {
	IsOK bool   `json:"isok"`
	Err  string `json:"err"`
	Data struct {
		AllW []Device `json:"allw"`
	} `json:"data"`
}

type appDataEnvelope struct {
	Data struct {
		Current json.RawMessage `json:"current"`
	} `json:"data"`
}

func stringifyJSONID(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return strings.TrimSpace(v.String())
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

func truncateString(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	return value[:limit] + "...(truncated)"
}
