package ml

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// BundleFormat tags bundles this package can evaluate.
const BundleFormat = "carprice.tree_ensemble/v1"

// Bundle is the generic serialized form of a model: the ensemble plus the input
// column order it was trained with.
type Bundle struct {
	Format       string
	FeatureNames []string
	Ensemble     *Ensemble
}

func ReadBundle(r io.Reader) (*Bundle, error) {
	var b Bundle
	if err := gob.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode model bundle: %w", err)
	}
	return &b, nil
}

func WriteBundle(w io.Writer, b *Bundle) error {
	if b.Format == "" {
		b.Format = BundleFormat
	}
	return gob.NewEncoder(w).Encode(b)
}

// SaveBundle writes b to path through a temporary file.
func SaveBundle(path string, b *Bundle) error {
	if err := b.Ensemble.Validate(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := WriteBundle(tmp, b); err != nil {
		tmp.Close()
		return fmt.Errorf("encode model bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func LoadBundle(path string) (*Bundle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadBundle(file)
}
