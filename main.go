package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"carprice/config"
	"carprice/db"
	qhttp "carprice/http"
	"carprice/logging"
	"carprice/monitoring"
	"carprice/predict"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "carprice: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 1. Load config
	cfg, err := config.Load(configPath)
	configMissing := errors.Is(err, fs.ErrNotExist)
	if err != nil && !configMissing {
		return err
	}

	// 2. Logger
	logger, level, err := logging.New(logging.Options{
		Mode:       cfg.Log.Mode,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	if configMissing {
		logger.Warn("config file not found, using defaults", zap.String("path", configPath))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Prediction history and live feed
	hub := monitoring.NewHub(logger, cfg.Http.AllowedOrigins)
	go hub.Run()
	defer hub.Stop()

	recorders := []predict.Recorder{hub}
	metricOpts := []monitoring.MetricsOption{monitoring.WithHub(hub), monitoring.WithLogger(logger)}
	var history qhttp.History
	if cfg.Database.Path != "" {
		store, err := db.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer store.Close()
		logger.Info("prediction history enabled", zap.String("path", cfg.Database.Path))
		recorders = append(recorders, store)
		metricOpts = append(metricOpts, monitoring.WithHistory(store))
		history = store
	}
	metrics := monitoring.NewMetrics(metricOpts...)
	recorders = append(recorders, metrics)

	// 4. Model and category mapping, loaded once
	svc, err := predict.Open(predict.Artifacts{
		MappingsPath: cfg.Mappings.Path,
		BundlePath:   cfg.Model.BundlePath,
		BoosterPath:  cfg.Model.BoosterPath,
	}, predict.Options{
		CacheSize: cfg.Model.CacheSize,
		Recorders: recorders,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	logger.Info("service ready", zap.String("state", string(svc.State())))

	// 5. Log level follows the config file
	if !configMissing {
		go func() {
			err := config.Watch(ctx, configPath, logger, func(next *config.Config) {
				if err := logging.SetLevel(level, next.Log.Level); err != nil {
					logger.Warn("ignoring log level", zap.String("level", next.Log.Level), zap.Error(err))
					return
				}
				logger.Info("log level updated", zap.String("level", level.String()))
			})
			if err != nil {
				logger.Warn("config watch stopped", zap.Error(err))
			}
		}()
	}

	// 6. HTTP server
	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		AllowedOrigins: cfg.Http.AllowedOrigins,
		MaxBodyBytes:   cfg.Http.MaxBodyBytes,
	}, &qhttp.Handlers{
		Service: svc,
		History: history,
		Stream:  http.HandlerFunc(hub.HandleWebSocket),
		Metrics: metrics,
		Logger:  logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := server.Stop(context.Background()); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("exiting")
	return nil
}
