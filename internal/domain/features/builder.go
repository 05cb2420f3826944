// Package features turns raw telemetry fields into the ordered numeric vector a classifier expects.
package features

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
)

// identityKeys are never treated as features when the schema is auto-detected.
var identityKeys = map[string]struct{}{
	"_id": {}, "id": {}, "runId": {}, "vehicleId": {}, "vehicle_id": {}, "deviceID": {},
	"timestamp": {}, "timeStamp": {}, "source": {},
}

// Feature is one named vector entry.
type Feature struct {
	Name  string
	Value float64
}

// Vector is ordered by the builder schema.
type Vector []Feature

// Values returns the raw values in schema order.
func (v Vector) Values() []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = f.Value
	}
	return out
}

// Names returns the feature names in schema order.
func (v Vector) Names() []string {
	out := make([]string, len(v))
	for i, f := range v {
		out[i] = f.Name
	}
	return out
}

// Builder maps raw fields onto a fixed schema, imputing gaps with learned medians.
type Builder struct {
	schema  []string
	medians map[string]float64
}

// New creates a builder from a known schema and medians.
func New(schema []string, medians map[string]float64) *Builder {
	b := &Builder{
		schema:  append([]string(nil), schema...),
		medians: make(map[string]float64, len(medians)),
	}
	for k, v := range medians {
		b.medians[k] = v
	}
	return b
}

// Fit learns medians from samples. With an empty schema every field holding a
// numeric value somewhere in the sample becomes a feature, in name order.
func Fit(schema []string, samples []map[string]any) *Builder {
	values := make(map[string][]float64)
	for _, s := range samples {
		for k, v := range s {
			if f, ok := numeric(v); ok {
				values[k] = append(values[k], f)
			}
		}
	}

	if len(schema) == 0 {
		for k := range values {
			if _, skip := identityKeys[k]; !skip {
				schema = append(schema, k)
			}
		}
		sort.Strings(schema)
	}

	medians := make(map[string]float64, len(schema))
	for _, name := range schema {
		if vs := values[name]; len(vs) > 0 {
			medians[name] = median(vs)
		}
	}
	return New(schema, medians)
}

// WithSchema returns a builder using schema and the medians already learned.
func (b *Builder) WithSchema(schema []string) *Builder {
	return New(schema, b.medians)
}

// Schema returns a copy of the expected feature order.
func (b *Builder) Schema() []string {
	return append([]string(nil), b.schema...)
}

// Median returns the learned median for name.
func (b *Builder) Median(name string) (float64, bool) {
	m, ok := b.medians[name]
	return m, ok
}

// Build produces the vector for fields. Missing or null values take the
// median, or 0 when no median was learned. A value that is present but not
// numeric is a *CoercionError.
func (b *Builder) Build(fields map[string]any) (Vector, error) {
	vec := make(Vector, len(b.schema))
	for i, name := range b.schema {
		vec[i].Name = name
		raw, ok := fields[name]
		if !ok || raw == nil {
			vec[i].Value = b.medians[name]
			continue
		}
		f, ok := Float(raw)
		if !ok {
			return nil, &CoercionError{Field: name, Value: raw}
		}
		vec[i].Value = f
	}
	return vec, nil
}

type mappingFile struct {
	ExpectedFeatures []string           `json:"expected_features"`
	Medians          map[string]float64 `json:"medians"`
}

// Save writes the mapping as JSON.
func (b *Builder) Save(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(mappingFile{ExpectedFeatures: b.schema, Medians: b.medians})
}

// Load reads a mapping written by Save.
func Load(r io.Reader) (*Builder, error) {
	var m mappingFile
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMapping, err)
	}
	if len(m.ExpectedFeatures) == 0 {
		return nil, fmt.Errorf("%w: expected_features is empty", ErrInvalidMapping)
	}
	return New(m.ExpectedFeatures, m.Medians), nil
}

// SaveFile writes the mapping to path.
func (b *Builder) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := b.Save(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// LoadFile reads a mapping from path.
func LoadFile(path string) (*Builder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

func median(vs []float64) float64 {
	s := append([]float64(nil), vs...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
