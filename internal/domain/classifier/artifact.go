package classifier

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Artifact kinds.
const (
	KindLinear = "linear"
	KindForest = "forest"
)

// Artifact is the JSON export of a trained model.
type Artifact struct {
	Kind               string      `json:"kind"`
	Classes            []string    `json:"classes"`
	FeatureNames       []string    `json:"feature_names"`
	Coefficients       [][]float64 `json:"coefficients,omitempty"`
	Intercepts         []float64   `json:"intercepts,omitempty"`
	Trees              []Tree      `json:"trees,omitempty"`
	FeatureImportances []float64   `json:"feature_importances,omitempty"`
}

// Build turns the artifact into a classifier.
func (a *Artifact) Build() (Classifier, error) {
	switch a.Kind {
	case KindLinear:
		return NewLinear(a.Classes, a.FeatureNames, a.Coefficients, a.Intercepts)
	case KindForest:
		return NewForest(a.Classes, a.FeatureNames, a.Trees, a.FeatureImportances)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidArtifact, a.Kind)
	}
}

// Load decodes an artifact and builds its classifier.
func Load(r io.Reader) (Classifier, error) {
	var a Artifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArtifact, err)
	}
	return a.Build()
}

// LoadFile loads an artifact from path. Any failure wraps ErrModelUnavailable.
func LoadFile(path string) (Classifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	defer func() { _ = f.Close() }()
	clf, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrModelUnavailable, path, err)
	}
	return clf, nil
}
