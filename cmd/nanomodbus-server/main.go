// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command nanomodbus-server runs a single standalone MODBUS slave,
// serving one in-process register/coil table over one transport.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/grid-x/serial"

	"github.com/ffutop/nanomodbus-go/internal/cliutil"
	"github.com/ffutop/nanomodbus-go/internal/config"
	"github.com/ffutop/nanomodbus-go/internal/metrics"
	"github.com/ffutop/nanomodbus-go/modbus"
	serialadapter "github.com/ffutop/nanomodbus-go/transport/serial"
	tcpadapter "github.com/ffutop/nanomodbus-go/transport/tcpconn"
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

	if cfg.Server == nil {
		slog.Error("No [server] section configured. Exiting.")
		os.Exit(1)
	}
	scfg := cfg.Server

	storage, err := cliutil.NewStorage(scfg.Persistence)
	if err != nil {
		slog.Error("Failed to set up storage", "error", err)
		os.Exit(1)
	}
	model, err := storage.Load()
	if err != nil {
		slog.Error("Failed to load storage", "error", err)
		os.Exit(1)
	}
	model.SetOnWrite(storage.OnWrite)
	callbacks := metrics.Instrument("server", model.Callbacks())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if scfg.MetricsAddr != "" {
		go cliutil.ServeMetrics(scfg.MetricsAddr)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var err error
		switch scfg.Transport {
		case "rtu":
			err = runRTU(ctx, scfg, callbacks)
		case "tcp":
			err = runTCP(ctx, scfg, callbacks)
		default:
			err = fmt.Errorf("unknown transport %q", scfg.Transport)
		}
		if err != nil && ctx.Err() == nil {
			slog.Error("Server stopped with error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	cancel()
	wg.Wait()
	if err := storage.Close(); err != nil {
		slog.Error("Failed to close storage", "error", err)
	}
	slog.Info("Goodbye.")
}

func runRTU(ctx context.Context, cfg *config.ServerConfig, callbacks modbus.Callbacks) error {
	port, err := serialadapter.Open(serial.Config{
		Address:  cfg.Serial.Device,
		BaudRate: cfg.Serial.BaudRate,
		DataBits: cfg.Serial.DataBits,
		Parity:   cfg.Serial.Parity,
		StopBits: cfg.Serial.StopBits,
		Timeout:  cfg.Serial.Timeout,
	})
	if err != nil {
		return fmt.Errorf("open serial %s: %w", cfg.Serial.Device, err)
	}
	defer port.Close()

	srv, err := modbus.NewServer(cfg.UnitAddress, port.PlatformConf(), callbacks)
	if err != nil {
		return fmt.Errorf("new RTU server: %w", err)
	}
	return cliutil.PollUntilDone(ctx, "server", srv)
}

func runTCP(ctx context.Context, cfg *config.ServerConfig, callbacks modbus.Callbacks) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.Tcp.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Tcp.Address, err)
	}

	var wg sync.WaitGroup
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept on %s: %w", cfg.Tcp.Address, err)
		}
		c := tcpadapter.Wrap(conn)
		srv, err := modbus.NewServer(cfg.UnitAddress, c.PlatformConf(), callbacks)
		if err != nil {
			slog.Error("New TCP server", "error", err)
			c.Close()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer c.Close()
			if err := cliutil.PollUntilDone(ctx, "server", srv); err != nil {
				slog.Debug("Connection closed", "error", err)
			}
		}()
	}
}
