package ml

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

const (
	FormatBundle  = "bundle"
	FormatXGBoost = "xgboost-json"
)

// LoadArtifact loads the model from bundlePath when that file exists, otherwise from
// the XGBoost JSON at boosterPath. When neither exists the error wraps
// fs.ErrNotExist. Artifacts that parse but describe an unsupported model come back
// as *Unsupported rather than an error.
func LoadArtifact(bundlePath, boosterPath string) (Model, error) {
	if exists(bundlePath) {
		return loadBundleModel(bundlePath)
	}
	if exists(boosterPath) {
		return loadXGBoostModel(boosterPath)
	}
	return nil, fmt.Errorf("no model artifact at %q or %q: %w", bundlePath, boosterPath, fs.ErrNotExist)
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func loadBundleModel(path string) (Model, error) {
	source := ArtifactInfo{Path: path, Format: FormatBundle}
	bundle, err := LoadBundle(path)
	if err != nil {
		return nil, err
	}
	if bundle.Format != BundleFormat {
		return &Unsupported{Reason: fmt.Errorf("bundle format %q: %w", bundle.Format, ErrUnsupportedModel), Source: source}, nil
	}
	if err := bundle.Ensemble.Validate(); err != nil {
		return unsupportedOr(err, source)
	}
	return NewModel(bundle.Ensemble, bundle.FeatureNames, source)
}

func loadXGBoostModel(path string) (Model, error) {
	source := ArtifactInfo{Path: path, Format: FormatXGBoost}
	ensemble, info, err := LoadXGBoostJSON(path)
	source.Wrapper = info.Wrapper
	source.Booster = info.Booster
	if err != nil {
		return unsupportedOr(err, source)
	}
	return NewModel(ensemble, info.FeatureNames, source)
}

func unsupportedOr(err error, source ArtifactInfo) (Model, error) {
	if errors.Is(err, ErrUnsupportedModel) {
		return &Unsupported{Reason: err, Source: source}, nil
	}
	return nil, err
}
