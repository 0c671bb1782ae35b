// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package cliutil holds the bits of process setup shared by the
// cmd/nanomodbus-* binaries: log handler setup, a Persistence-to-
// store.Storage factory, a /metrics HTTP endpoint and the Poll loop
// every server-side transport runs.
package cliutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ffutop/nanomodbus-go/internal/config"
	"github.com/ffutop/nanomodbus-go/internal/metrics"
	"github.com/ffutop/nanomodbus-go/modbus"
	"github.com/ffutop/nanomodbus-go/store"
)

// PollTimeout bounds how long one Poll call blocks, so a server
// goroutine notices context cancellation promptly even while idle.
const PollTimeout = 1 * time.Second

// SetupLogger installs a slog handler per cfg: level-filtered, to
// stdout or to cfg.File.
func SetupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// NewStorage builds the store.Storage backend named by p.Type.
func NewStorage(p config.PersistenceConfig) (store.Storage, error) {
	switch p.Type {
	case "", "memory":
		return store.NewMemoryStorage(), nil
	case "file":
		return store.NewFileStorage(p.Path), nil
	case "mmap":
		return store.NewMmapStorage(p.Path), nil
	case "sql":
		return store.NewSQLStorage(p.Path), nil
	default:
		return nil, fmt.Errorf("unknown persistence type %q", p.Type)
	}
}

// ServeMetrics blocks serving Prometheus metrics on addr at /metrics.
// Callers typically run it in its own goroutine.
func ServeMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("Serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("Metrics server stopped", "error", err)
	}
}

// PollUntilDone calls srv.Poll in a loop until ctx is cancelled or
// Poll returns an error other than a bare read timeout, recording each
// call's outcome under the instance label.
func PollUntilDone(ctx context.Context, instance string, srv *modbus.Engine) error {
	srv.SetReadTimeout(int32(PollTimeout.Milliseconds()))
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := srv.Poll()
		metrics.ObservePoll(instance, err)
		if err != nil && !errors.Is(err, modbus.ErrTimeout) {
			return err
		}
	}
}
