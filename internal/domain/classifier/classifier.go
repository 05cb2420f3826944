// Package classifier adapts opaque pre-trained models to the prediction stage.
package classifier

import (
	"fmt"
)

// FallbackOtherLabel names the residual class of a pseudo-distribution.
const FallbackOtherLabel = "other"

// Classifier is the minimum a model must provide.
type Classifier interface {
	Predict(x []float64) (string, error)
	FeatureNames() []string
}

// ProbabilityEstimator is implemented by models with calibrated class probabilities.
type ProbabilityEstimator interface {
	PredictProba(x []float64) (map[string]float64, error)
}

// ImportanceProvider is implemented by models that expose per-feature weights.
type ImportanceProvider interface {
	Importances() []float64
}

// Classification is the adapter output.
type Classification struct {
	Label        string
	Distribution map[string]float64
	// Probability is max(Distribution).
	Probability float64
	// Calibrated is false when Distribution was synthesized from a hard label.
	Calibrated bool
}

// Model wraps a Classifier and discovers its optional capabilities once.
type Model struct {
	clf   Classifier
	proba ProbabilityEstimator
	imp   ImportanceProvider
}

// NewModel wraps clf. A nil clf yields a model that always reports ErrModelUnavailable.
func NewModel(clf Classifier) *Model {
	m := &Model{clf: clf}
	if clf == nil {
		return m
	}
	if p, ok := clf.(ProbabilityEstimator); ok {
		m.proba = p
	}
	if i, ok := clf.(ImportanceProvider); ok {
		m.imp = i
	}
	return m
}

// Available reports whether a classifier is loaded.
func (m *Model) Available() bool { return m != nil && m.clf != nil }

// FeatureNames returns the schema the classifier was trained on, if any.
func (m *Model) FeatureNames() []string {
	if !m.Available() {
		return nil
	}
	return m.clf.FeatureNames()
}

// Importances returns per-feature weights, or nil when the model has none.
func (m *Model) Importances() []float64 {
	if !m.Available() || m.imp == nil {
		return nil
	}
	return m.imp.Importances()
}

// Classify predicts a label and a probability distribution for x.
func (m *Model) Classify(x []float64) (Classification, error) {
	if !m.Available() {
		return Classification{}, ErrModelUnavailable
	}
	label, err := m.clf.Predict(x)
	if err != nil {
		return Classification{}, fmt.Errorf("%w: predict: %w", ErrModelUnavailable, err)
	}

	if m.proba == nil {
		dist := map[string]float64{label: 1.0}
		if label != FallbackOtherLabel {
			dist[FallbackOtherLabel] = 0.0
		}
		return Classification{Label: label, Distribution: dist, Probability: 1.0}, nil
	}

	dist, err := m.proba.PredictProba(x)
	if err != nil {
		return Classification{}, fmt.Errorf("%w: predict_proba: %w", ErrModelUnavailable, err)
	}
	var p float64
	for _, v := range dist {
		if v > p {
			p = v
		}
	}
	return Classification{Label: label, Distribution: dist, Probability: p, Calibrated: true}, nil
}
