// Command build_mappings scans the car price dataset and writes the category code
// mapping used by the prediction service.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"carprice/category"
	"carprice/config"
	"carprice/logging"
)

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "build_mappings: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stderr io.Writer) error {
	flags := flag.NewFlagSet("build_mappings", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", config.DefaultPath, "path to the YAML config file")
	dataset := flags.String("dataset", "", "dataset CSV (overrides dataset.path)")
	out := flags.String("out", "", "mapping output path (overrides mappings.path)")
	charset := flags.String("charset", "", "dataset character encoding (overrides dataset.charset)")
	logLevel := flags.String("log-level", "info", "log level")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if *dataset != "" {
		cfg.Dataset.Path = *dataset
	}
	if *out != "" {
		cfg.Mappings.Path = *out
	}
	if *charset != "" {
		cfg.Dataset.Charset = *charset
	}

	logger, _, err := logging.New(logging.Options{Mode: "development", Level: *logLevel})
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Nothing is written unless the whole dataset encodes.
	mapping, err := category.BuildFromFile(cfg.Dataset.Path, cfg.Dataset.Charset)
	if err != nil {
		return fmt.Errorf("build mapping from %s: %w", cfg.Dataset.Path, err)
	}
	if err := category.WriteFile(cfg.Mappings.Path, mapping); err != nil {
		return fmt.Errorf("write %s: %w", cfg.Mappings.Path, err)
	}

	fields := []zap.Field{zap.String("dataset", cfg.Dataset.Path), zap.String("out", cfg.Mappings.Path)}
	for _, name := range category.Columns {
		fields = append(fields, zap.Int(name, mapping.Len(name)))
	}
	logger.Info("category mappings saved", fields...)
	return nil
}
