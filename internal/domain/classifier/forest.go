package classifier

import (
	"fmt"
)

// Node is a decision tree node. Leaves carry per-class counts in Value.
type Node struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      int       `json:"left"`
	Right     int       `json:"right"`
	Value     []float64 `json:"value,omitempty"`
}

// Tree is a flat node array rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Forest averages the leaf distributions of its trees.
type Forest struct {
	classes     []string
	features    []string
	trees       []Tree
	importances []float64
}

// NewForest validates every tree and builds a forest.
func NewForest(classes, features []string, trees []Tree, importances []float64) (*Forest, error) {
	if len(classes) < 2 || len(trees) == 0 {
		return nil, fmt.Errorf("%w: forest needs at least two classes and one tree", ErrInvalidArtifact)
	}
	if importances != nil && len(importances) != len(features) {
		return nil, fmt.Errorf("%w: %d importances for %d features", ErrInvalidArtifact, len(importances), len(features))
	}
	for ti, t := range trees {
		if len(t.Nodes) == 0 {
			return nil, fmt.Errorf("%w: tree %d is empty", ErrInvalidArtifact, ti)
		}
		for ni, n := range t.Nodes {
			if len(n.Value) > 0 {
				if len(n.Value) != len(classes) {
					return nil, fmt.Errorf("%w: tree %d leaf %d has %d values", ErrInvalidArtifact, ti, ni, len(n.Value))
				}
				continue
			}
			if n.Feature < 0 || n.Feature >= len(features) ||
				n.Left <= ni || n.Left >= len(t.Nodes) || n.Right <= ni || n.Right >= len(t.Nodes) {
				return nil, fmt.Errorf("%w: tree %d node %d is malformed", ErrInvalidArtifact, ti, ni)
			}
		}
	}
	return &Forest{classes: classes, features: features, trees: trees, importances: importances}, nil
}

func (f *Forest) FeatureNames() []string { return append([]string(nil), f.features...) }

// Importances returns the impurity-based importances stored with the model.
func (f *Forest) Importances() []float64 {
	if f.importances == nil {
		return nil
	}
	return append([]float64(nil), f.importances...)
}

func (f *Forest) Predict(x []float64) (string, error) {
	dist, err := f.PredictProba(x)
	if err != nil {
		return "", err
	}
	return argmax(f.classes, dist), nil
}

func (f *Forest) PredictProba(x []float64) (map[string]float64, error) {
	if len(x) != len(f.features) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(x), len(f.features))
	}
	acc := make([]float64, len(f.classes))
	for _, t := range f.trees {
		leaf := t.leaf(x)
		var total float64
		for _, v := range leaf.Value {
			total += v
		}
		if total == 0 {
			continue
		}
		for i, v := range leaf.Value {
			acc[i] += v / total
		}
	}
	dist := make(map[string]float64, len(f.classes))
	for i, c := range f.classes {
		dist[c] = acc[i] / float64(len(f.trees))
	}
	return dist, nil
}

// leaf walks to a leaf. Child indices always grow, so the walk terminates.
func (t Tree) leaf(x []float64) Node {
	n := t.Nodes[0]
	for len(n.Value) == 0 {
		if x[n.Feature] <= n.Threshold {
			n = t.Nodes[n.Left]
		} else {
			n = t.Nodes[n.Right]
		}
	}
	return n
}
