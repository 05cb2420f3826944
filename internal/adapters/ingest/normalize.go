// Package ingest turns heterogeneous telemetry payloads (JSON objects, JSON
// arrays, CSV uploads) into canonical readings.
package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/okian/fleetguard/internal/domain/features"
	"github.com/okian/fleetguard/internal/domain/model"
)

// DefaultSource tags readings that arrive through the ingestion endpoint without one.
const DefaultSource = "ingest_api"

// Alias lists, highest priority first. The first non-null value wins.
var (
	vehicleKeys   = []string{"vehicleId", "vehicle_id", "vehicleid", "deviceID", "deviceid"}
	timestampKeys = []string{"timestamp", "timeStamp"}
	rpmKeys       = []string{"rpm"}
	brakingKeys   = []string{"braking"}
	vibrationKeys = []string{"vibration", "total_acceleration", "totalAcceleration", "totalacceleration"}
	hardBrakeKeys = []string{"hard_brake_event", "hardBrakeEvent", "hardbrakeevent"}
	speedKeys     = []string{"speed", "gps_speed", "gpsSpeed", "gpsspeed"}
	angularKeys   = []string{"angular_acceleration", "angularAcceleration", "angularacceleration"}
	thresholdKeys = []string{"angular_threshold", "angularThreshold", "angularthreshold"}
)

// Normalize resolves aliases once and returns the canonical reading. Signal
// values that are absent or not numeric read as zero; only a missing vehicle
// id or an unparseable timestamp is an error. The raw fields are kept as-is.
func Normalize(raw map[string]any) (model.Reading, error) {
	r := model.Reading{Fields: make(map[string]any, len(raw))}
	for k, v := range raw {
		r.Fields[k] = v
	}

	id, ok := VehicleID(first(raw, vehicleKeys))
	if !ok {
		return r, &model.MissingFieldError{Field: "vehicleId"}
	}
	r.VehicleID = id

	if ts := first(raw, timestampKeys); ts != nil {
		s, isString := ts.(string)
		if !isString || strings.TrimSpace(s) == "" {
			return r, fmt.Errorf("%w: %v", ErrInvalidTimestamp, ts)
		}
		t, err := model.ParseTime(strings.TrimSpace(s))
		if err != nil {
			return r, fmt.Errorf("%w: %q: %w", ErrInvalidTimestamp, s, err)
		}
		r.Timestamp = t.UTC()
	}
	if s, ok := raw["source"].(string); ok {
		r.Source = s
	}

	r.Signals = model.Signals{
		RPM:                 number(raw, rpmKeys),
		Braking:             number(raw, brakingKeys),
		Vibration:           number(raw, vibrationKeys),
		Speed:               number(raw, speedKeys),
		AngularAcceleration: number(raw, angularKeys),
		AngularThreshold:    model.DefaultAngularThreshold,
		HardBrake:           flag(first(raw, hardBrakeKeys)),
	}
	if v := first(raw, thresholdKeys); v != nil {
		if f, ok := features.Float(v); ok {
			r.Signals.AngularThreshold = f
		}
	}
	return r, nil
}

// VehicleID renders an identifier as a string. Integral numbers lose their
// fraction so 7, 7.0 and "7" name the same vehicle.
func VehicleID(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case bool:
		return "", false
	}
	f, ok := features.Float(v)
	if !ok {
		s := strings.TrimSpace(fmt.Sprint(v))
		return s, s != ""
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10), true
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}

func first(raw map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func number(raw map[string]any, keys []string) float64 {
	f, _ := features.Float(first(raw, keys))
	return f
}

// flag accepts booleans, "true"/"false" in any case, and numbers.
func flag(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true")
	case nil:
		return false
	}
	f, ok := features.Float(v)
	return ok && f != 0
}
