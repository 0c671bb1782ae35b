// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package gateway

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ffutop/nanomodbus-go/internal/config"
	"github.com/ffutop/nanomodbus-go/modbus"
	"github.com/ffutop/nanomodbus-go/store"
	tcpadapter "github.com/ffutop/nanomodbus-go/transport/tcpconn"
)

func TestNew_PopulatesCallbacksFromStorage(t *testing.T) {
	storage := store.NewMemoryStorage()
	gw, err := New("gw1", 1, storage, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if gw.Name != "gw1" || gw.Address != 1 {
		t.Fatalf("got Name=%q Address=%d, want gw1/1", gw.Name, gw.Address)
	}
	if gw.callbacks.ReadHoldingRegisters == nil {
		t.Fatal("expected a fully populated Callbacks from store.Model")
	}
}

func TestRun_UnknownUpstreamTypeIsFatal(t *testing.T) {
	storage := store.NewMemoryStorage()
	gw, err := New("gw1", 1, storage, []config.UpstreamConfig{{Type: "carrier-pigeon"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = gw.Run(ctx)
	if err == nil {
		t.Fatal("expected Run to report the unknown upstream type")
	}
}

func TestRun_NoUpstreamsReturnsPromptly(t *testing.T) {
	storage := store.NewMemoryStorage()
	gw, err := New("gw1", 1, storage, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func freeLoopbackAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find a free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestRun_ServesTCPUpstream(t *testing.T) {
	addr := freeLoopbackAddr(t)

	storage := store.NewMemoryStorage()
	gw, err := New("gw1", 1, storage, []config.UpstreamConfig{
		{Type: "tcp", Tcp: config.TcpConfig{Address: addr}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	var conn *tcpadapter.Conn
	for i := 0; i < 50; i++ {
		conn, err = tcpadapter.Dial(addr, 100*time.Millisecond)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	defer conn.Close()

	cli, err := modbus.NewClient(conn.PlatformConf())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	cli.SetReadTimeout(2000)

	if err := cli.WriteSingleRegister(5, 321); err != nil {
		t.Fatalf("WriteSingleRegister: %v", err)
	}
	out := make([]uint16, 1)
	if err := cli.ReadHoldingRegisters(5, 1, out); err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	if out[0] != 321 {
		t.Fatalf("got %d, want 321", out[0])
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
