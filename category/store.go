package category

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Encode renders m as the persisted document: four-space indentation, columns and
// values in code order, trailing newline.
func Encode(m *Mapping) ([]byte, error) {
	compact, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "    "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// WriteFile persists m at path. The document is written to a temporary file in the
// same directory and renamed into place, so path never holds a partial mapping.
func WriteFile(path string, m *Mapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	payload, err := Encode(m)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp mapping: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write mapping: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync mapping: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("install mapping: %w", err)
	}
	return nil
}

// LoadFile reads and validates a mapping written by WriteFile. A missing file yields
// an error wrapping fs.ErrNotExist.
func LoadFile(path string) (*Mapping, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := &Mapping{}
	if err := json.Unmarshal(payload, m); err != nil {
		return nil, fmt.Errorf("decode mapping %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
