package classifier

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/okian/fleetguard/internal/domain/features"
	"github.com/okian/fleetguard/internal/domain/model"
)

// TopContributors is how many features an explanation keeps.
const TopContributors = 3

// Explain ranks features by |value * weight|, rounded to four places, and
// keeps the top three. Weights that do not line up with vec are ignored and
// every weight becomes 1.0. Equal impacts keep schema order.
func Explain(vec features.Vector, weights []float64) []model.FeatureImpact {
	if len(weights) != len(vec) {
		weights = nil
	}
	out := make([]model.FeatureImpact, len(vec))
	for i, f := range vec {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		out[i] = model.FeatureImpact{Feature: f.Name, Impact: math.Round(math.Abs(f.Value*w)*1e4) / 1e4}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Impact > out[j].Impact })
	if len(out) > TopContributors {
		out = out[:TopContributors]
	}
	return out
}

// Summary is the model-level explanation text based on raw feature magnitude.
func Summary(vec features.Vector) string {
	top := Explain(vec, nil)
	if len(top) == 0 {
		return "No features available to explain this prediction."
	}
	names := make([]string, len(top))
	for i, f := range top {
		names[i] = f.Feature
	}
	return fmt.Sprintf("Top signals: %s drove this prediction.", strings.Join(names, ", "))
}
