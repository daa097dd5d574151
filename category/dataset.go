package category

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Row holds the categorical cells of one dataset row. Other columns are ignored.
type Row struct {
	Brand        string `csv:"Brand"`
	Model        string `csv:"Model"`
	FuelType     string `csv:"Fuel_Type"`
	Transmission string `csv:"Transmission"`
}

// Value returns the cell for a categorical column name.
func (r *Row) Value(name string) (string, error) {
	switch name {
	case Brand:
		return r.Brand, nil
	case Model:
		return r.Model, nil
	case FuelType:
		return r.FuelType, nil
	case Transmission:
		return r.Transmission, nil
	}
	return "", fmt.Errorf("%s: %w", name, ErrUnknownFeature)
}

// decoderFor resolves a charset label ("utf-8", "gbk", "latin1", "utf-16le", ...).
// UTF-8 input has a leading byte order mark removed.
func decoderFor(charset string) (*encoding.Decoder, error) {
	name := strings.ToLower(strings.TrimSpace(charset))
	if name == "" || name == "utf-8" || name == "utf8" {
		return unicode.UTF8BOM.NewDecoder(), nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("charset %q: %w", charset, err)
	}
	return enc.NewDecoder(), nil
}

// ReadDataset decodes a comma separated dataset in the given charset and returns its
// categorical cells in file order. The header must name every column in Columns.
func ReadDataset(r io.Reader, charset string) ([]*Row, error) {
	dec, err := decoderFor(charset)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(transform.NewReader(r, dec))
	if err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}

	header, err := csv.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("dataset is empty")
		}
		return nil, fmt.Errorf("read dataset header: %w", err)
	}
	present := make(map[string]bool, len(header))
	for _, name := range header {
		present[name] = true
	}
	var missing []string
	for _, name := range Columns {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}

	var rows []*Row
	if err := gocsv.UnmarshalBytes(data, &rows); err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}
	return rows, nil
}

// ReadDatasetFile is ReadDataset on a file path.
func ReadDatasetFile(path, charset string) ([]*Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadDataset(file, charset)
}
