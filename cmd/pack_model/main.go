// Command pack_model converts an XGBoost JSON model into the gob bundle the
// prediction service loads in preference to the JSON file.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"carprice/logging"
	"carprice/ml"
)

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "pack_model: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stderr io.Writer) error {
	flags := flag.NewFlagSet("pack_model", flag.ContinueOnError)
	flags.SetOutput(stderr)
	in := flags.String("in", "car_price_xgboost.json", "XGBoost JSON model")
	out := flags.String("out", "car_price_xgboost.gob", "bundle output path")
	features := flags.String("features", "", "comma separated input column names, in training order (overrides the model's own)")
	logLevel := flags.String("log-level", "info", "log level")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *in == "" || *out == "" {
		return errors.New("-in and -out are required")
	}

	logger, _, err := logging.New(logging.Options{Mode: "development", Level: *logLevel})
	if err != nil {
		return err
	}
	defer logger.Sync()

	ensemble, info, err := ml.LoadXGBoostJSON(*in)
	if err != nil {
		return fmt.Errorf("load %s: %w", *in, err)
	}

	names := info.FeatureNames
	if *features != "" {
		names = splitNames(*features)
	}
	// NewModel checks the names against the ensemble.
	if _, err := ml.NewModel(ensemble, names, ml.ArtifactInfo{Path: *in}); err != nil {
		return err
	}
	if len(names) == 0 {
		logger.Warn("model has no input column names, the service will refuse to predict with it; pass -features")
	}

	if err := ml.SaveBundle(*out, &ml.Bundle{FeatureNames: names, Ensemble: ensemble}); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	logger.Info("model bundle saved",
		zap.String("in", *in),
		zap.String("out", *out),
		zap.String("wrapper", info.Wrapper),
		zap.String("xgboost_version", info.Version),
		zap.Int("trees", len(ensemble.Trees)),
		zap.Strings("features", names),
	)
	return nil
}

func splitNames(s string) []string {
	parts := strings.Split(s, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return names
}
