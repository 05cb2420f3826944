// Package assistant answers driver and operator questions about one vehicle
// from its newest stored decisions. Intents are picked by keyword; nothing
// here touches storage.
package assistant

import (
	"fmt"
	"strings"

	"github.com/okian/fleetguard/internal/domain/model"
)

// Thresholds for the safety and breakdown answers.
const (
	HighProbability      = 0.7
	BreakdownRiskScore   = 0.8
	BreakdownProbability = 0.85

	// BreakdownEvent is the classifier label treated as an imminent breakdown.
	BreakdownEvent = "Breakdown"

	// MaxListed bounds the recommendations quoted in one answer.
	MaxListed = 3
)

// Intent names the question an answer responded to.
type Intent string

const (
	IntentStatus          Intent = "status"
	IntentRisk            Intent = "risk"
	IntentRecommendations Intent = "recommendations"
	IntentSafety          Intent = "safety"
	IntentPrediction      Intent = "prediction"
	IntentTelemetry       Intent = "telemetry"
	IntentBreakdown       Intent = "breakdown"
	IntentSummary         Intent = "summary"
	IntentHelp            Intent = "help"
)

// Context is what is known about the vehicle. Nil or empty fields are unknown.
type Context struct {
	Risk            *model.RiskAssessment
	Prediction      *model.Prediction
	Diagnostics     *model.Diagnostics
	Recommendations []model.Recommendation
	Telemetry       map[string]any
}

// Sources reports which records an answer could draw on.
type Sources struct {
	Risk            bool `json:"risk"`
	Prediction      bool `json:"prediction"`
	Recommendations int  `json:"recommendations"`
}

// Reply is an answer with the intents it covered.
type Reply struct {
	Answer  string   `json:"answer"`
	Intents []Intent `json:"intents"`
	Sources Sources  `json:"sources"`
}

var telemetryKeys = []string{"rpm", "speed", "vibration", "braking", "temperature", "pressure", "fuel", "voltage"}

func (c *Context) sources() Sources {
	return Sources{Risk: c.Risk != nil, Prediction: c.Prediction != nil, Recommendations: len(c.Recommendations)}
}

// reasons are the diagnostics issues behind the newest assessment.
func (c *Context) reasons() []string {
	if c.Diagnostics == nil {
		return nil
	}
	return c.Diagnostics.Issues
}

func (c *Context) highProbability(limit float64) bool {
	return c.Prediction != nil && !c.Prediction.Degraded && c.Prediction.Probability > limit
}

func containsAny(s string, keys ...string) bool {
	for _, k := range keys {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// Assist answers every intent the question mentions, in a fixed order, and
// falls back to a one-line summary when it mentions none.
func Assist(question string, c *Context) Reply {
	q := strings.ToLower(question)
	reply := Reply{Sources: c.sources()}
	var parts []string

	if containsAny(q, "risk", "risky", "why") {
		reply.Intents = append(reply.Intents, IntentRisk)
		if c.Risk == nil {
			parts = append(parts, "No recent risk assessment found for this vehicle.")
		} else {
			parts = append(parts, fmt.Sprintf("Latest risk level: %s (score %.2f).", c.Risk.Category, c.Risk.RiskScore))
			if rs := c.reasons(); len(rs) > 0 {
				parts = append(parts, "Key reasons: "+strings.Join(rs, ", ")+".")
			}
		}
	}

	if containsAny(q, "fix", "what should i", "recommend") {
		reply.Intents = append(reply.Intents, IntentRecommendations)
		if len(c.Recommendations) == 0 {
			parts = append(parts, "No specific recommendations found; inspect high-risk components first.")
		} else {
			parts = append(parts, "Top recommendation: "+c.Recommendations[0].Recommendation)
		}
	}

	if containsAny(q, "safe", "drive") {
		reply.Intents = append(reply.Intents, IntentSafety)
		switch {
		case c.Risk != nil && c.Risk.Category == model.RiskHigh:
			parts = append(parts, "Warning: risk level is HIGH, not recommended to drive without inspection.")
		case c.Prediction != nil && c.Prediction.PredictedEvent == BreakdownEvent:
			parts = append(parts, "Prediction indicates a breakdown may occur soon, exercise caution.")
		default:
			parts = append(parts, "No immediate safety concerns detected in recent data.")
		}
	}

	if len(parts) == 0 {
		reply.Intents = append(reply.Intents, IntentSummary)
		var summary []string
		if c.Risk != nil {
			summary = append(summary, fmt.Sprintf("risk=%s", c.Risk.Category))
		}
		if c.Prediction != nil {
			summary = append(summary, fmt.Sprintf("prediction=%s (p=%.3f)", c.Prediction.PredictedEvent, c.Prediction.Probability))
		}
		if n := len(c.Recommendations); n > 0 {
			summary = append(summary, fmt.Sprintf("recommendations=%d available", n))
		}
		if len(summary) == 0 {
			parts = append(parts, "I couldn't find relevant telemetry, risk, or prediction data for this vehicle.")
		} else {
			parts = append(parts, "Summary: "+strings.Join(summary, "; "))
		}
	}

	reply.Answer = strings.Join(parts, " ")
	return reply
}

// Converse answers the first intent the message matches. The order matters:
// "why is my health status bad" is a status question.
func Converse(message string, c *Context) Reply {
	m := strings.ToLower(message)
	reply := Reply{Sources: c.sources()}
	answer := func(intent Intent, text string) Reply {
		reply.Intents = []Intent{intent}
		reply.Answer = text
		return reply
	}

	switch {
	case containsAny(m, "explain", "health", "status"):
		return answer(IntentStatus, c.status())
	case containsAny(m, "why", "risky", "reason"):
		return answer(IntentRisk, c.why())
	case containsAny(m, "what should i do", "fix", "recommend", "maintenance"):
		return answer(IntentRecommendations, c.actions())
	case containsAny(m, "prediction", "predict", "fail"):
		return answer(IntentPrediction, c.prediction())
	case containsAny(m, "telemetry", "sensor", "data", "temperature", "pressure", "rpm"):
		return answer(IntentTelemetry, c.telemetry())
	case containsAny(m, "breakdown", "emergency", "help", "accident", "assistance"):
		return answer(IntentBreakdown, c.breakdown())
	}

	if s := c.summary(); s != "" {
		return answer(IntentSummary, s)
	}
	return answer(IntentHelp, "I couldn't find relevant data. Try asking:\n"+
		"- Explain my health\n- Why is it risky\n- What should I do\n- Show me telemetry")
}

func (c *Context) status() string {
	if c.Risk == nil && c.Prediction == nil && c.Telemetry == nil {
		return "No vehicle data available for analysis."
	}
	var lines []string
	if c.Risk != nil {
		lines = append(lines, fmt.Sprintf("Risk Status: %s (score %.2f)", strings.ToUpper(string(c.Risk.Category)), c.Risk.RiskScore))
	}
	if c.Prediction != nil {
		lines = append(lines, fmt.Sprintf("Prediction: %s (%.1f%% probability)", c.Prediction.PredictedEvent, c.Prediction.Probability*100))
	}
	if c.Telemetry != nil {
		if ts, ok := c.Telemetry["timestamp"].(string); ok {
			lines = append(lines, "Last Reading: "+ts)
		}
	}
	if rs := c.reasons(); len(rs) > 0 {
		lines = append(lines, "Reasons: "+strings.Join(rs, ", "))
	}
	return strings.Join(lines, "\n")
}

func (c *Context) why() string {
	rs := c.reasons()
	if c.Risk == nil || len(rs) == 0 {
		return "No detailed risk analysis available. Please check with a technician."
	}
	return fmt.Sprintf("Your vehicle is %s risk due to:\n- %s\n\nRisk Score: %.2f",
		strings.ToUpper(string(c.Risk.Category)), strings.Join(rs, "\n- "), c.Risk.RiskScore)
}

func (c *Context) actions() string {
	if len(c.Recommendations) == 0 {
		return "No specific recommendations available. Consider scheduling a maintenance check."
	}
	lines := []string{"Recommended Actions:"}
	for i, rec := range c.Recommendations {
		if i == MaxListed {
			break
		}
		text := rec.Recommendation
		if text == "" {
			text = rec.Component
		}
		if text == "" {
			text = "Vehicle inspection"
		}
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, text))
	}
	return strings.Join(lines, "\n")
}

func (c *Context) prediction() string {
	if c.Prediction == nil {
		return "No prediction data available."
	}
	out := fmt.Sprintf("Latest Prediction:\nEvent: %s\nProbability: %.1f%%",
		c.Prediction.PredictedEvent, c.Prediction.Probability*100)
	if c.highProbability(HighProbability) {
		out += "\nHigh probability, consider immediate maintenance."
	}
	return out
}

func (c *Context) telemetry() string {
	if c.Telemetry == nil {
		return "No telemetry data available."
	}
	lines := []string{"Current Vehicle Telemetry:"}
	for _, k := range telemetryKeys {
		if v, ok := c.Telemetry[k]; ok {
			lines = append(lines, fmt.Sprintf("- %s: %v", strings.ToUpper(k), v))
		}
	}
	return strings.Join(lines, "\n")
}

func (c *Context) breakdown() string {
	if (c.Risk != nil && c.Risk.Known() && c.Risk.RiskScore > BreakdownRiskScore) || c.highProbability(BreakdownProbability) {
		return "BREAKDOWN ASSISTANCE\nYour vehicle requires immediate assistance. Stop safely and call roadside assistance."
	}
	return "Your vehicle status is stable. No emergency assistance needed at this time."
}

func (c *Context) summary() string {
	var lines []string
	if c.Risk != nil {
		lines = append(lines, fmt.Sprintf("Risk Level: %s (%.2f)", strings.ToUpper(string(c.Risk.Category)), c.Risk.RiskScore))
	}
	if c.Prediction != nil {
		lines = append(lines, "Predicted Issue: "+c.Prediction.PredictedEvent)
	}
	if n := len(c.Recommendations); n > 0 {
		lines = append(lines, fmt.Sprintf("Recommended Actions: %d pending", n))
	}
	if len(lines) == 0 {
		return ""
	}
	return "Vehicle Summary:\n" + strings.Join(lines, "\n")
}
