package main

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carprice/category"
)

const dataset = `Brand,Model,Year,Engine_Size,Fuel_Type,Transmission,Mileage,Doors,Owner_Count,Price
Toyota,Corolla,2015,1.8,Petrol,Manual,50000,4,1,9000
Honda,Civic,2018,2.0,Diesel,Automatic,30000,4,2,12000
Toyota,Camry,2012,2.5,Petrol,Automatic,90000,4,3,7000
Ford,Focus,2019,1.6,Hybrid,Manual,10000,5,1,15000
`

func TestRunWritesMapping(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "cars.csv")
	out := filepath.Join(dir, "category_mappings.json")
	require.NoError(t, os.WriteFile(in, []byte(dataset), 0o644))

	args := []string{"-config", filepath.Join(dir, "absent.yaml"), "-dataset", in, "-out", out, "-log-level", "error"}
	require.NoError(t, run(args, io.Discard))

	m, err := category.LoadFile(out)
	require.NoError(t, err)
	code, err := m.Lookup(category.Brand, "Ford")
	require.NoError(t, err)
	assert.Equal(t, 2, code)

	first, err := os.ReadFile(out)
	require.NoError(t, err)
	require.NoError(t, run(args, io.Discard))
	second, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRunMissingDatasetWritesNothing(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "category_mappings.json")

	err := run([]string{"-config", filepath.Join(dir, "absent.yaml"), "-dataset", filepath.Join(dir, "none.csv"), "-out", out}, io.Discard)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	_, statErr := os.Stat(out)
	assert.True(t, errors.Is(statErr, fs.ErrNotExist))
}

func TestRunMissingColumnWritesNothing(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "cars.csv")
	out := filepath.Join(dir, "category_mappings.json")
	require.NoError(t, os.WriteFile(in, []byte("Brand,Model,Year\nToyota,Corolla,2015\n"), 0o644))

	err := run([]string{"-config", filepath.Join(dir, "absent.yaml"), "-dataset", in, "-out", out}, io.Discard)
	require.Error(t, err)
	assert.True(t, errors.Is(err, category.ErrMissingColumn))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
