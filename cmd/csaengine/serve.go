// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/csa-systems/csa-engine/internal/config"
	"github.com/csa-systems/csa-engine/internal/engine"
	"github.com/csa-systems/csa-engine/internal/httpapi"
	"github.com/csa-systems/csa-engine/internal/telemetry"
)

var (
	servePort  int
	serveDebug bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP command surface and compute scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "port to listen on")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "enable gin debug mode and request logging")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	telCfg := telemetry.DefaultConfig()
	shutdownTelemetry, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	eng, err := engine.New(ctx, config.Global, logger)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := eng.Shutdown(sctx); err != nil {
			logger.Warn("engine shutdown", slog.Any("error", err))
		}
	}()

	watcher, err := startConfigWatch(ctx, logger)
	if err != nil {
		logger.Warn("config hot reload disabled", slog.Any("error", err))
	} else if watcher != nil {
		defer watcher.Stop()
	}

	router := httpapi.NewRouter(eng, serveDebug, logger)
	addr := fmt.Sprintf(":%d", servePort)
	srv := &http.Server{Addr: addr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("csaengine listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	case err := <-errCh:
		return err
	}
}

// startConfigWatch watches the loaded config file for edits, logging each
// reload; the engine itself is constructed once per process, so a reload
// only takes effect on the next restart, matching the teacher's
// tool_registry watch-and-log pattern rather than a live config-swap.
func startConfigWatch(ctx context.Context, logger *slog.Logger) (*config.Watcher, error) {
	if configPath == "" {
		return nil, nil
	}
	w, err := config.NewWatcher(configPath, func(c config.Config) {
		logger.Info("config file changed; restart csaengine to apply", slog.String("path", configPath))
	}, config.WatcherOptions{}, logger)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}
