// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package gateway exposes one shared register/coil table over several
// transports at once: a serial line, a MODBUS-TCP listener, or a
// MODBUS-RTU-over-TCP listener, all answering from the same
// store.Model.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/grid-x/serial"

	"github.com/ffutop/nanomodbus-go/internal/cliutil"
	"github.com/ffutop/nanomodbus-go/internal/config"
	"github.com/ffutop/nanomodbus-go/internal/metrics"
	"github.com/ffutop/nanomodbus-go/modbus"
	"github.com/ffutop/nanomodbus-go/store"
	serialadapter "github.com/ffutop/nanomodbus-go/transport/serial"
	tcpadapter "github.com/ffutop/nanomodbus-go/transport/tcpconn"
)

// Gateway serves one store.Model over every configured Upstream.
// Requests are never dispatched by unit id to independent downstream
// devices: every Upstream answers from the same shared table, since
// modbus.Callbacks never sees the in-flight request's unit id (an
// Engine answers as one identity).
type Gateway struct {
	Name      string
	Address   uint8
	Upstreams []config.UpstreamConfig

	storage   store.Storage
	callbacks modbus.Callbacks
}

// New loads storage into a Model and prepares a Gateway ready to serve
// it over Upstreams once Run is called.
func New(name string, address uint8, storage store.Storage, upstreams []config.UpstreamConfig) (*Gateway, error) {
	model, err := storage.Load()
	if err != nil {
		return nil, fmt.Errorf("gateway %s: load storage: %w", name, err)
	}
	model.SetOnWrite(storage.OnWrite)
	return &Gateway{
		Name:      name,
		Address:   address,
		Upstreams: upstreams,
		storage:   storage,
		callbacks: metrics.Instrument(name, model.Callbacks()),
	}, nil
}

// Run serves every configured Upstream until ctx is cancelled, then
// closes the backing storage. The first fatal upstream error is
// returned once every upstream goroutine has stopped.
func (g *Gateway) Run(ctx context.Context) error {
	defer func() {
		if err := g.storage.Close(); err != nil {
			slog.Error("gateway: close storage", "gateway", g.Name, "error", err)
		}
	}()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i := range g.Upstreams {
		up := g.Upstreams[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.serveUpstream(ctx, up); err != nil && ctx.Err() == nil {
				slog.Error("gateway: upstream stopped", "gateway", g.Name, "type", up.Type, "error", err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return firstErr
}

func (g *Gateway) serveUpstream(ctx context.Context, up config.UpstreamConfig) error {
	switch up.Type {
	case "rtu":
		return g.serveRTU(ctx, up)
	case "tcp":
		return g.serveTCPListener(ctx, up.Tcp.Address, (*tcpadapter.Conn).PlatformConf)
	case "rtu-over-tcp":
		return g.serveTCPListener(ctx, up.Tcp.Address, (*tcpadapter.Conn).PlatformConfRTU)
	default:
		return fmt.Errorf("gateway %s: unknown upstream type %q", g.Name, up.Type)
	}
}

func (g *Gateway) serveRTU(ctx context.Context, up config.UpstreamConfig) error {
	port, err := serialadapter.Open(serial.Config{
		Address:  up.Serial.Device,
		BaudRate: up.Serial.BaudRate,
		DataBits: up.Serial.DataBits,
		Parity:   up.Serial.Parity,
		StopBits: up.Serial.StopBits,
		Timeout:  up.Serial.Timeout,
	})
	if err != nil {
		return fmt.Errorf("gateway %s: open serial %s: %w", g.Name, up.Serial.Device, err)
	}
	defer port.Close()

	srv, err := modbus.NewServer(g.Address, port.PlatformConf(), g.callbacks)
	if err != nil {
		return fmt.Errorf("gateway %s: new RTU server: %w", g.Name, err)
	}
	return cliutil.PollUntilDone(ctx, g.Name, srv)
}

// serveTCPListener accepts connections on address and serves the
// shared Model over each one, using platformConf to choose MBAP or RTU
// framing on the accepted socket.
func (g *Gateway) serveTCPListener(ctx context.Context, address string, platformConf func(*tcpadapter.Conn) modbus.PlatformConf) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("gateway %s: listen %s: %w", g.Name, address, err)
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
			return fmt.Errorf("gateway %s: accept on %s: %w", g.Name, address, err)
		}
		c := tcpadapter.Wrap(conn)
		srv, err := modbus.NewServer(g.Address, platformConf(c), g.callbacks)
		if err != nil {
			slog.Error("gateway: new TCP server", "gateway", g.Name, "error", err)
			c.Close()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer c.Close()
			if err := cliutil.PollUntilDone(ctx, g.Name, srv); err != nil {
				slog.Debug("gateway: connection closed", "gateway", g.Name, "error", err)
			}
		}()
	}
}
