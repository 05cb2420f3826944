// Package model contains domain records passed between layers.
package model

import (
	"time"
)

// DefaultAngularThreshold applies when a reading carries no angular_threshold.
const DefaultAngularThreshold = 0.5

// TimeLayout is the fixed-width UTC layout used for every persisted timestamp.
// Fixed width keeps lexical and chronological order identical.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts TimeLayout and the RFC 3339 variants clients send.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02T15:04:05", s)
}

// Signals holds the canonical, alias-resolved inputs used by the threshold stages.
// Absent values are zero.
type Signals struct {
	RPM                 float64
	Braking             float64
	Vibration           float64
	Speed               float64
	AngularAcceleration float64
	AngularThreshold    float64
	HardBrake           bool
}

// Reading is one telemetry sample for one vehicle.
type Reading struct {
	VehicleID string
	// Timestamp is zero when the caller supplied none.
	Timestamp time.Time
	Source    string
	Signals   Signals
	// Fields keeps every raw field by its original key for feature construction.
	Fields map[string]any
}

// Validate reports a missing vehicle identifier.
func (r Reading) Validate() error { //nolint:gocritic // value receiver keeps Reading copyable
	if r.VehicleID == "" {
		return &MissingFieldError{Field: "vehicleId"}
	}
	return nil
}

// StampAt returns the record timestamp for a stage running at now.
func (r Reading) StampAt(now time.Time) string { //nolint:gocritic // value receiver keeps Reading copyable
	if r.Timestamp.IsZero() {
		return FormatTime(now)
	}
	return FormatTime(r.Timestamp)
}

// Document returns the persisted telemetry shape: raw fields plus identity keys.
func (r Reading) Document(now time.Time) map[string]any { //nolint:gocritic // value receiver keeps Reading copyable
	doc := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		doc[k] = v
	}
	doc["vehicleId"] = r.VehicleID
	doc["timestamp"] = r.StampAt(now)
	if r.Source != "" {
		doc["source"] = r.Source
	}
	return doc
}
