package predict

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"strconv"
	"strings"

	"carprice/category"
	"carprice/ml"
)

var errMissing = errors.New("field is required")

// ParseForm coerces the nine submitted fields into a record. Every field is
// required. Categorical fields take either a category code or, when m knows it,
// the category label. All problems are reported together in one bad input error.
func ParseForm(values url.Values, m *category.Mapping) (ml.FeatureRecord, error) {
	p := &formParser{values: values, mapping: m}
	record := ml.FeatureRecord{
		Brand:        p.category(ml.FeatureBrand),
		Model:        p.category(ml.FeatureModel),
		Year:         p.integer(ml.FeatureYear),
		EngineSize:   p.float(ml.FeatureEngineSize),
		FuelType:     p.category(ml.FeatureFuelType),
		Transmission: p.category(ml.FeatureTransmission),
		Mileage:      p.integer(ml.FeatureMileage),
		Doors:        p.integer(ml.FeatureDoors),
		OwnerCount:   p.integer(ml.FeatureOwnerCount),
	}
	if len(p.errs) > 0 {
		return ml.FeatureRecord{}, &Error{Kind: KindBadInput, Field: p.first, Err: fieldErrors(p.errs)}
	}
	return record, nil
}

// ParseJSON reads a JSON object with the same fields as the form. Values may be
// numbers or strings.
func ParseJSON(r io.Reader, m *category.Mapping) (ml.FeatureRecord, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var body map[string]interface{}
	if err := dec.Decode(&body); err != nil {
		return ml.FeatureRecord{}, &Error{Kind: KindBadInput, Err: fmt.Errorf("decode request body: %w", err)}
	}
	values := url.Values{}
	for key, raw := range body {
		switch v := raw.(type) {
		case json.Number:
			values.Set(key, v.String())
		case string:
			values.Set(key, v)
		case nil:
		default:
			return ml.FeatureRecord{}, badInput(key, fmt.Errorf("unexpected %T value", raw))
		}
	}
	return ParseForm(values, m)
}

// fieldErrors reports every bad field on one line.
type fieldErrors []error

func (fe fieldErrors) Error() string {
	msgs := make([]string, len(fe))
	for i, err := range fe {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (fe fieldErrors) Unwrap() []error { return fe }

type formParser struct {
	values  url.Values
	mapping *category.Mapping
	errs    []error
	first   string
}

func (p *formParser) fail(field string, err error) {
	if p.first == "" {
		p.first = field
	}
	p.errs = append(p.errs, fmt.Errorf("%s: %w", field, err))
}

func (p *formParser) raw(field string) (string, bool) {
	if _, ok := p.values[field]; !ok {
		p.fail(field, errMissing)
		return "", false
	}
	return strings.TrimSpace(p.values.Get(field)), true
}

func (p *formParser) integer(field string) int {
	s, ok := p.raw(field)
	if !ok {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		p.fail(field, fmt.Errorf("invalid integer %q", s))
		return 0
	}
	return v
}

func (p *formParser) float(field string) float64 {
	s, ok := p.raw(field)
	if !ok {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.fail(field, fmt.Errorf("invalid number %q", s))
		return 0
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		p.fail(field, fmt.Errorf("%q is not a finite number", s))
		return 0
	}
	return v
}

func (p *formParser) category(field string) int {
	s, ok := p.raw(field)
	if !ok {
		return 0
	}
	// a label wins over a code, so "3" names the model labelled "3"
	var lookupErr error
	if p.mapping != nil && p.mapping.Len(field) > 0 {
		code, err := p.mapping.Lookup(field, s)
		if err == nil {
			return code
		}
		lookupErr = err
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	if lookupErr != nil {
		p.fail(field, lookupErr)
		return 0
	}
	p.fail(field, fmt.Errorf("invalid integer %q", s))
	return 0
}
