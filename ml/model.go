package ml

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedModel marks artifacts that load but cannot be evaluated.
	ErrUnsupportedModel = errors.New("unsupported model type")
	// ErrMissingSchema is returned by models that do not carry their input column
	// order. Positional input is never assumed.
	ErrMissingSchema = errors.New("model does not expose its input columns")
	// ErrFeatureMismatch is returned when the model expects a column the record
	// does not have.
	ErrFeatureMismatch = errors.New("model input columns do not match feature record")
)

// ArtifactInfo describes where a model came from.
type ArtifactInfo struct {
	Path    string `json:"path"`
	Format  string `json:"format"`
	Wrapper string `json:"wrapper,omitempty"`
	Booster string `json:"booster,omitempty"`
	Trees   int    `json:"trees"`
}

// Model is a loaded artifact. The concrete type is one of WithSchema,
// WithoutSchema or Unsupported and is fixed at load time.
type Model interface {
	Predict(record FeatureRecord) (float64, error)
	// Columns returns the input column order, nil when unknown.
	Columns() []string
	Info() ArtifactInfo
	isModel()
}

// WithSchema knows its training column order and selects record fields by name.
type WithSchema struct {
	Names    []string
	Ensemble *Ensemble
	Source   ArtifactInfo
}

func (m *WithSchema) Predict(record FeatureRecord) (float64, error) {
	vec := make([]float64, len(m.Names))
	for i, name := range m.Names {
		v, ok := record.Value(name)
		if !ok {
			return 0, fmt.Errorf("column %q: %w", name, ErrFeatureMismatch)
		}
		vec[i] = v
	}
	return m.Ensemble.Predict(vec)
}

func (m *WithSchema) Columns() []string  { return append([]string(nil), m.Names...) }
func (m *WithSchema) Info() ArtifactInfo { return m.Source }
func (*WithSchema) isModel()             {}

// WithoutSchema is a raw booster saved without feature names. Its column order
// cannot be checked, so it refuses to predict.
type WithoutSchema struct {
	Ensemble *Ensemble
	Source   ArtifactInfo
}

func (m *WithoutSchema) Predict(FeatureRecord) (float64, error) {
	return 0, fmt.Errorf("%s: %w", m.Source.Path, ErrMissingSchema)
}

func (m *WithoutSchema) Columns() []string  { return nil }
func (m *WithoutSchema) Info() ArtifactInfo { return m.Source }
func (*WithoutSchema) isModel()             {}

// Unsupported is an artifact that was read but describes a model this package
// cannot evaluate.
type Unsupported struct {
	Reason error
	Source ArtifactInfo
}

func (m *Unsupported) Predict(FeatureRecord) (float64, error) {
	return 0, m.Reason
}

func (m *Unsupported) Columns() []string  { return nil }
func (m *Unsupported) Info() ArtifactInfo { return m.Source }
func (*Unsupported) isModel()             {}

// NewModel picks the variant for an ensemble and its optional column names.
func NewModel(ensemble *Ensemble, names []string, source ArtifactInfo) (Model, error) {
	if ensemble != nil {
		source.Trees = len(ensemble.Trees)
	}
	if len(names) == 0 {
		return &WithoutSchema{Ensemble: ensemble, Source: source}, nil
	}
	if ensemble.NumFeature > 0 && len(names) != ensemble.NumFeature {
		return nil, fmt.Errorf("%d column names for %d model features", len(names), ensemble.NumFeature)
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			return nil, fmt.Errorf("duplicate column name %q", name)
		}
		seen[name] = true
	}
	return &WithSchema{Names: append([]string(nil), names...), Ensemble: ensemble, Source: source}, nil
}
