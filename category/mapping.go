// Package category derives and persists the integer codes used for the
// categorical features of the car price model.
//
// Codes are assigned by first occurrence while scanning a dataset top to bottom.
// A model is only valid together with the mapping produced from the dataset it was
// trained on, so the mapping is generated once and treated as read-only afterwards.
package category

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// Categorical column names, in the order they are persisted.
const (
	Brand        = "Brand"
	Model        = "Model"
	FuelType     = "Fuel_Type"
	Transmission = "Transmission"
)

// Columns lists the categorical columns a mapping always carries.
var Columns = []string{Brand, Model, FuelType, Transmission}

var (
	ErrUnknownValue   = errors.New("value not present in category mapping")
	ErrUnknownCode    = errors.New("code not present in category mapping")
	ErrUnknownFeature = errors.New("not a categorical feature")
	ErrMissingColumn  = errors.New("dataset is missing categorical column")
)

type column struct {
	labels []string
	codes  map[string]int
}

func newColumn() *column {
	return &column{codes: make(map[string]int)}
}

// add assigns the next code to value unless it was seen before.
func (c *column) add(value string) int {
	if code, ok := c.codes[value]; ok {
		return code
	}
	code := len(c.labels)
	c.codes[value] = code
	c.labels = append(c.labels, value)
	return code
}

// Mapping holds value -> code tables for every categorical column. A Mapping is
// not modified after it has been built or loaded and is safe for concurrent reads.
type Mapping struct {
	columns map[string]*column
}

// Empty returns a mapping whose columns contain no values.
func Empty() *Mapping {
	m := &Mapping{columns: make(map[string]*column, len(Columns))}
	for _, name := range Columns {
		m.columns[name] = newColumn()
	}
	return m
}

func (m *Mapping) column(name string) (*column, error) {
	if m == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownFeature)
	}
	col, ok := m.columns[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownFeature)
	}
	return col, nil
}

// Lookup returns the code assigned to value in the named column.
func (m *Mapping) Lookup(name, value string) (int, error) {
	col, err := m.column(name)
	if err != nil {
		return 0, err
	}
	code, ok := col.codes[value]
	if !ok {
		return 0, fmt.Errorf("%s %q: %w", name, value, ErrUnknownValue)
	}
	return code, nil
}

// Label is the inverse of Lookup.
func (m *Mapping) Label(name string, code int) (string, error) {
	col, err := m.column(name)
	if err != nil {
		return "", err
	}
	if code < 0 || code >= len(col.labels) {
		return "", fmt.Errorf("%s code %d: %w", name, code, ErrUnknownCode)
	}
	return col.labels[code], nil
}

// Contains reports whether code is assigned in the named column.
func (m *Mapping) Contains(name string, code int) bool {
	_, err := m.Label(name, code)
	return err == nil
}

// Len returns the number of distinct values in the named column, 0 for unknown columns.
func (m *Mapping) Len(name string) int {
	col, err := m.column(name)
	if err != nil {
		return 0
	}
	return len(col.labels)
}

// Labels returns the values of a column ordered by code.
func (m *Mapping) Labels(name string) []string {
	col, err := m.column(name)
	if err != nil {
		return nil
	}
	return append([]string(nil), col.labels...)
}

// Option is one selectable value of a categorical column.
type Option struct {
	Label string
	Code  int
}

// Options returns the values of a column ordered by code, for rendering selects.
func (m *Mapping) Options(name string) []Option {
	labels := m.Labels(name)
	opts := make([]Option, len(labels))
	for code, label := range labels {
		opts[code] = Option{Label: label, Code: code}
	}
	return opts
}

// Validate checks that every column is present and that codes form 0..k-1 without
// duplicates.
func (m *Mapping) Validate() error {
	for _, name := range Columns {
		col, err := m.column(name)
		if err != nil {
			return fmt.Errorf("mapping: %w", err)
		}
		if len(col.codes) != len(col.labels) {
			return fmt.Errorf("mapping %s: %d values share %d codes", name, len(col.labels), len(col.codes))
		}
		for code, label := range col.labels {
			if col.codes[label] != code {
				return fmt.Errorf("mapping %s: %q has code %d, want %d", name, label, col.codes[label], code)
			}
		}
	}
	return nil
}

// MarshalJSON writes columns in Columns order and values in code order.
func (m *Mapping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(&buf, name)
		buf.WriteByte(':')
		buf.WriteByte('{')
		col, _ := m.column(name)
		if col != nil {
			for code, label := range col.labels {
				if code > 0 {
					buf.WriteByte(',')
				}
				writeString(&buf, label)
				buf.WriteByte(':')
				buf.WriteString(strconv.Itoa(code))
			}
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	// Encode appends a newline
	buf.Truncate(buf.Len() - 1)
}

// UnmarshalJSON accepts {"column": {"value": code}} documents. Unknown columns are
// rejected and missing ones are left empty; Validate reports inconsistent codes.
func (m *Mapping) UnmarshalJSON(data []byte) error {
	var raw map[string]map[string]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Empty()
	for name, values := range raw {
		col, ok := out.columns[name]
		if !ok {
			return fmt.Errorf("mapping %s: %w", name, ErrUnknownFeature)
		}
		pairs := make([]Option, 0, len(values))
		for label, code := range values {
			pairs = append(pairs, Option{Label: label, Code: code})
		}
		sort.Slice(pairs, func(i, j int) bool {
			if pairs[i].Code != pairs[j].Code {
				return pairs[i].Code < pairs[j].Code
			}
			return pairs[i].Label < pairs[j].Label
		})
		for _, p := range pairs {
			col.labels = append(col.labels, p.Label)
			col.codes[p.Label] = p.Code
		}
	}
	*m = *out
	return nil
}
