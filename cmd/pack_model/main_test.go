package main

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carprice/ml"
	"carprice/ml/mltest"
)

var record = ml.FeatureRecord{Brand: 0, Model: 2, Year: 2015, EngineSize: 2.0, FuelType: 1, Mileage: 50000, Doors: 4, OwnerCount: 1}

func TestPackRoundTripMatchesJSON(t *testing.T) {
	dir := t.TempDir()
	reversed := make([]string, len(ml.FeatureNames))
	for i, name := range ml.FeatureNames {
		reversed[len(reversed)-1-i] = name
	}
	in := mltest.WriteXGBoostJSON(t, dir, reversed)
	out := filepath.Join(dir, "model.gob")

	require.NoError(t, run([]string{"-in", in, "-out", out, "-log-level", "error"}, io.Discard))

	fromJSON, err := ml.LoadArtifact("", in)
	require.NoError(t, err)
	fromBundle, err := ml.LoadArtifact(out, in)
	require.NoError(t, err)
	assert.Equal(t, ml.FormatBundle, fromBundle.Info().Format)
	assert.Equal(t, reversed, fromBundle.Columns())

	want, err := fromJSON.Predict(record)
	require.NoError(t, err)
	got, err := fromBundle.Predict(record)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, mltest.Predict(2015, 2.0, 50000), got)
}

func TestPackAttachesFeatureNames(t *testing.T) {
	dir := t.TempDir()
	in := mltest.WriteXGBoostJSON(t, dir, nil)
	out := filepath.Join(dir, "model.gob")

	args := []string{"-in", in, "-out", out, "-log-level", "error", "-features", strings.Join(ml.FeatureNames, ", ")}
	require.NoError(t, run(args, io.Discard))

	model, err := ml.LoadArtifact(out, "")
	require.NoError(t, err)
	_, ok := model.(*ml.WithSchema)
	require.True(t, ok, "got %T", model)
	got, err := model.Predict(record)
	require.NoError(t, err)
	assert.Equal(t, mltest.Predict(2015, 2.0, 50000), got)
}

func TestPackRejectsWrongFeatureCount(t *testing.T) {
	dir := t.TempDir()
	in := mltest.WriteXGBoostJSON(t, dir, nil)
	out := filepath.Join(dir, "model.gob")

	err := run([]string{"-in", in, "-out", out, "-log-level", "error", "-features", "Brand,Model"}, io.Discard)
	require.Error(t, err)
	_, statErr := os.Stat(out)
	assert.True(t, errors.Is(statErr, fs.ErrNotExist))
}

func TestPackMissingInput(t *testing.T) {
	dir := t.TempDir()
	err := run([]string{"-in", filepath.Join(dir, "none.json"), "-out", filepath.Join(dir, "m.gob"), "-log-level", "error"}, io.Discard)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}
