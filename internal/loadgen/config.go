// Package loadgen drives a running fleetguard server with synthetic telemetry
// and checks that the fleet views it serves stay consistent.
package loadgen

import "time"

// Config holds the load run parameters.
type Config struct {
	BaseURL    string        // Base URL of the service
	Vehicles   int           // Number of synthetic vehicles
	Readings   int           // Readings per vehicle
	Workers    int           // Concurrent submitters
	Timeout    time.Duration // HTTP request timeout
	Async      bool          // Submit with ?async=true
	Settle     time.Duration // Wait before verification when async
	Seed       uint64        // Generator seed; zero picks one from the clock
	OutputFile string        // Optional file for the generated readings
	Verbose    bool
}

// Stats summarizes a load run.
type Stats struct {
	Generated     int
	Submitted     int
	Accepted      int
	Backpressured int
	Failed        int
	Vehicles      int
	HighRisk      int
	TopRisk       int
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
}

// overview mirrors the GET /fleet/overview response.
type overview struct {
	TotalVehicles         int     `json:"totalVehicles"`
	HighRisk              int     `json:"highRisk"`
	AvgFailureProbability float64 `json:"avgFailureProbability"`
}

// riskEntry is one GET /fleet/top-risk element.
type riskEntry struct {
	VehicleID string  `json:"vehicleId"`
	RiskScore float64 `json:"risk_score"`
	Category  string  `json:"category"`
}

type vehicleList struct {
	Vehicles []string `json:"vehicles"`
	Count    int      `json:"count"`
}
