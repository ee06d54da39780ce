package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrEmptyPayload is returned for a body with no content.
	ErrEmptyPayload = errors.New("request body is empty")
	// ErrNotObject is returned when the body is valid JSON but not an object.
	ErrNotObject = errors.New("request body must be a JSON object")
	// ErrMalformedPayload wraps JSON syntax errors.
	ErrMalformedPayload = errors.New("request body is not valid JSON")
)

// Measurement is a sensor value that decodes leniently. Numbers and numeric
// strings are accepted; anything else, including null, decodes to zero with
// Valid unset.
type Measurement struct {
	Value float64
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler. It never fails.
func (m *Measurement) UnmarshalJSON(data []byte) error {
	m.Value, m.Valid = 0, false

	raw := string(bytes.TrimSpace(data))
	if raw == "" {
		return nil
	}

	switch raw[0] {
	case '"':
		s, err := strconv.Unquote(raw)
		if err != nil {
			return nil
		}
		raw = strings.TrimSpace(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
	default:
		return nil
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}

	m.Value, m.Valid = v, true
	return nil
}

// Payload is the inbound body of an ingestion request. Keys other than the
// eight sensor fields, such as a client-side timestamp or id, are ignored.
type Payload struct {
	Latitude  Measurement `json:"latitude"`
	Longitude Measurement `json:"longitude"`
	Flame     Measurement `json:"flame"`
	Smoke     Measurement `json:"smoke"`
	Distance  Measurement `json:"distance"`
	AccX      Measurement `json:"acc_x"`
	AccY      Measurement `json:"acc_y"`
	AccZ      Measurement `json:"acc_z"`
}

// DecodePayload parses body as a JSON object.
func DecodePayload(body []byte) (*Payload, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ErrEmptyPayload
	}

	if !json.Valid(body) {
		return nil, ErrMalformedPayload
	}
	if body[0] != '{' {
		return nil, ErrNotObject
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return &p, nil
}

// Stamp builds the reading to persist. Fields that were absent or
// unparseable are zero.
func (p *Payload) Stamp(timestamp string) Reading {
	return Reading{
		Timestamp: timestamp,
		Latitude:  p.Latitude.Value,
		Longitude: p.Longitude.Value,
		Flame:     p.Flame.Value,
		Smoke:     p.Smoke.Value,
		Distance:  p.Distance.Value,
		AccX:      p.AccX.Value,
		AccY:      p.AccY.Value,
		AccZ:      p.AccZ.Value,
	}
}

// Defaulted returns the names of the fields that will be stored as zero
// because they were missing or not numeric.
func (p *Payload) Defaulted() []string {
	fields := []struct {
		name string
		m    Measurement
	}{
		{"latitude", p.Latitude},
		{"longitude", p.Longitude},
		{"flame", p.Flame},
		{"smoke", p.Smoke},
		{"distance", p.Distance},
		{"acc_x", p.AccX},
		{"acc_y", p.AccY},
		{"acc_z", p.AccZ},
	}

	var out []string
	for _, f := range fields {
		if !f.m.Valid {
			out = append(out, f.name)
		}
	}
	return out
}
