package model

// Collections holding pipeline output.
const (
	CollectionTelemetry       = "telemetry"
	CollectionAlerts          = "alerts"
	CollectionPredictions     = "predictions"
	CollectionDiagnostics     = "diagnostics"
	CollectionRiskLogs        = "risk_logs"
	CollectionRecommendations = "maintenance_recommendations"
	CollectionMaintenance     = "maintenance_events"
	CollectionFeedback        = "feedback"
	CollectionActions         = "agent_actions"
	CollectionTimeline        = "agent_timeline"
	CollectionVehicles        = "vehicles"
)

// Severity grades alerts and recommendations.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// RiskCategory buckets a risk score.
type RiskCategory string

const (
	RiskLow     RiskCategory = "low"
	RiskMedium  RiskCategory = "medium"
	RiskHigh    RiskCategory = "high"
	RiskUnknown RiskCategory = "unknown"
)

// Priority of a maintenance slot.
type Priority string

const (
	PriorityUrgent   Priority = "urgent"
	PriorityStandard Priority = "standard"
	PriorityLow      Priority = "low"
)

// HealthState is the current operational status of a vehicle.
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthWarning  HealthState = "warning"
	HealthCritical HealthState = "critical"
	HealthGrounded HealthState = "grounded"
	HealthUnknown  HealthState = "unknown"
)

// FeedbackAwaiting is the only status the pipeline writes.
const FeedbackAwaiting = "awaiting_feedback"

// Header is shared by every persisted record.
type Header struct {
	ID        string `json:"id"`
	RunID     string `json:"runId,omitempty"`
	VehicleID string `json:"vehicleId"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

// Alert is a triggered combinational rule.
type Alert struct {
	Header
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Details  string   `json:"details"`
}

// FeatureImpact is one explanation entry.
type FeatureImpact struct {
	Feature string  `json:"feature"`
	Impact  float64 `json:"impact"`
}

// Prediction is the classifier verdict for a reading.
type Prediction struct {
	Header
	PredictedEvent  string             `json:"predicted_event"`
	Probability     float64            `json:"probability"`
	Probabilities   map[string]float64 `json:"probabilities,omitempty"`
	Calibrated      bool               `json:"calibrated"`
	Explanation     []FeatureImpact    `json:"explanation"`
	ExplanationText string             `json:"explanation_text,omitempty"`
	// Degraded marks a prediction emitted without a usable model output.
	Degraded       bool   `json:"degraded"`
	DegradedReason string `json:"degraded_reason,omitempty"`
}

// Diagnostics is the threshold summary for a reading.
type Diagnostics struct {
	Header
	Issues  []string `json:"issues"`
	// Reasons holds the threshold that raised each issue, index-aligned with Issues.
	Reasons []string `json:"reasons,omitempty"`
	Summary string   `json:"summary"`
}

// HasIssue reports whether the description was triggered.
func (d *Diagnostics) HasIssue(description string) bool {
	for _, is := range d.Issues {
		if is == description {
			return true
		}
	}
	return false
}

// RiskAssessment is the combined risk of a reading.
type RiskAssessment struct {
	Header
	RiskScore float64      `json:"risk_score"`
	Category  RiskCategory `json:"category"`
}

// Known reports whether the score was computed from a real prediction.
func (r *RiskAssessment) Known() bool { return r.Category != RiskUnknown }

// Recommendation is one maintenance action.
type Recommendation struct {
	Header
	Component      string   `json:"component"`
	Recommendation string   `json:"recommendation"`
	Severity       Severity `json:"severity"`
	DueWithinHours int      `json:"due_within_hours,omitempty"`
}

// MaintenanceSchedule is the slot booked for a reading.
type MaintenanceSchedule struct {
	Header
	ScheduledDate string   `json:"scheduled_date"`
	Priority      Priority `json:"priority"`
	RiskScore     float64  `json:"risk_score"`
}

// FeedbackRequest asks a driver or technician to confirm a prediction.
type FeedbackRequest struct {
	Header
	Status    string `json:"status"`
	Notes     string `json:"notes"`
	Predicted string `json:"predicted_event,omitempty"`
	Confirmed *bool  `json:"confirmed,omitempty"`
}

// AuditAction records what a stage did and why.
type AuditAction struct {
	Header
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// TimelineEntry is one stage decision in a vehicle's audit trail.
type TimelineEntry struct {
	Header
	Agent    string         `json:"agent"`
	Decision string         `json:"decision"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// VehicleHealth is the single mutable record per vehicle.
type VehicleHealth struct {
	VehicleID          string      `json:"vehicleId"`
	HealthState        HealthState `json:"healthState"`
	RiskScore          float64     `json:"risk_score"`
	FailureProbability float64     `json:"failure_probability"`
	Timestamp          string      `json:"timestamp"`
	RunID              string      `json:"runId,omitempty"`
}
