// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ffutop/nanomodbus-go/internal/cliutil"
	"github.com/ffutop/nanomodbus-go/internal/config"
	"github.com/ffutop/nanomodbus-go/internal/gateway"
)

func main() {
	configFile := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	cliutil.SetupLogger(cfg.Log)
	slog.Info("Starting nanomodbus-gateway...")

	var gateways []*gateway.Gateway
	for _, gwCfg := range cfg.Gateways {
		storage, err := cliutil.NewStorage(gwCfg.Persistence)
		if err != nil {
			slog.Error("Failed to set up storage", "gateway", gwCfg.Name, "error", err)
			continue
		}
		gw, err := gateway.New(gwCfg.Name, gwCfg.UnitAddress, storage, gwCfg.Upstreams)
		if err != nil {
			slog.Error("Failed to create gateway", "gateway", gwCfg.Name, "error", err)
			continue
		}
		gateways = append(gateways, gw)
	}

	if len(gateways) == 0 {
		slog.Error("No valid gateways configured. Exiting.")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Server != nil && cfg.Server.MetricsAddr != "" {
		go cliutil.ServeMetrics(cfg.Server.MetricsAddr)
	}

	var wg sync.WaitGroup
	for _, gw := range gateways {
		wg.Add(1)
		go func(g *gateway.Gateway) {
			defer wg.Done()
			if err := g.Run(ctx); err != nil {
				slog.Error("Gateway stopped with error", "gateway", g.Name, "error", err)
			}
		}(gw)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	cancel()
	wg.Wait()
	slog.Info("Goodbye.")
}
