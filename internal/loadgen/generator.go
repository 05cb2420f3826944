package loadgen

import (
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// Signal ranges for generated readings.
const (
	rpmMin, rpmRange     = 700.0, 4800.0
	speedMax             = 140.0
	hardBrakeProbability = 0.15
	readingInterval      = time.Second
	timestampLayout      = "2006-01-02T15:04:05.000000Z"
)

// Batch is the set of readings submitted for one vehicle.
type Batch struct {
	VehicleID string
	Readings  []map[string]any
}

// Generate builds cfg.Vehicles batches of cfg.Readings readings each. Vehicle
// ids are unique per run; timestamps advance one second per reading from start.
func Generate(cfg *Config, start time.Time) []Batch {
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed>>1))
	prefix := uuid.NewString()[:8]

	batches := make([]Batch, cfg.Vehicles)
	for v := range batches {
		id := prefix + "-" + uuid.NewString()[:8]
		readings := make([]map[string]any, cfg.Readings)
		for i := range readings {
			readings[i] = reading(rng, id, start.Add(time.Duration(i)*readingInterval))
		}
		batches[v] = Batch{VehicleID: id, Readings: readings}
	}
	return batches
}

func reading(rng *rand.Rand, id string, ts time.Time) map[string]any {
	return map[string]any{
		"vehicleId":            id,
		"timestamp":            ts.UTC().Format(timestampLayout),
		"rpm":                  rpmMin + rng.Float64()*rpmRange,
		"braking":              rng.Float64(),
		"vibration":            rng.Float64(),
		"speed":                rng.Float64() * speedMax,
		"angular_acceleration": rng.Float64(),
		"hard_brake_event":     rng.Float64() < hardBrakeProbability,
		"source":               "loadgen",
	}
}
