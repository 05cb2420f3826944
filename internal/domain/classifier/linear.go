package classifier

import (
	"fmt"
	"math"
)

// Linear is a logistic model: binary with one coefficient row, multinomial softmax otherwise.
type Linear struct {
	classes   []string
	features  []string
	coef      [][]float64
	intercept []float64
}

// NewLinear validates the shapes and builds a linear model.
func NewLinear(classes, features []string, coef [][]float64, intercept []float64) (*Linear, error) {
	rows := len(classes)
	if len(classes) == 2 && len(coef) == 1 {
		rows = 1
	}
	if len(classes) < 2 || len(coef) != rows || len(intercept) != rows {
		return nil, fmt.Errorf("%w: linear model needs %d coefficient rows for %d classes", ErrInvalidArtifact, rows, len(classes))
	}
	for i, row := range coef {
		if len(row) != len(features) {
			return nil, fmt.Errorf("%w: coefficient row %d has %d weights for %d features", ErrInvalidArtifact, i, len(row), len(features))
		}
	}
	return &Linear{classes: classes, features: features, coef: coef, intercept: intercept}, nil
}

func (l *Linear) FeatureNames() []string { return append([]string(nil), l.features...) }

// Importances returns the first coefficient row.
func (l *Linear) Importances() []float64 { return append([]float64(nil), l.coef[0]...) }

func (l *Linear) Predict(x []float64) (string, error) {
	dist, err := l.PredictProba(x)
	if err != nil {
		return "", err
	}
	return argmax(l.classes, dist), nil
}

func (l *Linear) PredictProba(x []float64) (map[string]float64, error) {
	if len(x) != len(l.features) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(x), len(l.features))
	}
	z := make([]float64, len(l.coef))
	for i, row := range l.coef {
		z[i] = l.intercept[i]
		for j, w := range row {
			z[i] += w * x[j]
		}
	}

	dist := make(map[string]float64, len(l.classes))
	if len(z) == 1 {
		p := 1 / (1 + math.Exp(-z[0]))
		dist[l.classes[0]] = 1 - p
		dist[l.classes[1]] = p
		return dist, nil
	}

	maxZ := z[0]
	for _, v := range z[1:] {
		maxZ = math.Max(maxZ, v)
	}
	var sum float64
	for i := range z {
		z[i] = math.Exp(z[i] - maxZ)
		sum += z[i]
	}
	for i, c := range l.classes {
		dist[c] = z[i] / sum
	}
	return dist, nil
}

// argmax picks the most probable class; ties resolve to the earlier class.
func argmax(classes []string, dist map[string]float64) string {
	best := classes[0]
	for _, c := range classes[1:] {
		if dist[c] > dist[best] {
			best = c
		}
	}
	return best
}
