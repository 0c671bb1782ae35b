// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package serial adapts a github.com/grid-x/serial port to the
// byte-callback contract modbus.PlatformConf expects, so an
// *modbus.Engine can drive a real RS-485/RS-232 line.
package serial

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/grid-x/serial"

	"github.com/ffutop/nanomodbus-go/modbus"
)

// Port wraps an open serial line. The inter-byte read timeout is
// fixed at Open time by cfg.Timeout: grid-x/serial reports a timed
// out read as (0, nil) rather than a distinct error, which maps
// directly onto modbus.IOTimeout.
type Port struct {
	cfg  serial.Config
	port io.ReadWriteCloser
}

// Open opens the serial line described by cfg.
func Open(cfg serial.Config) (*Port, error) {
	port, err := serial.Open(&cfg)
	if err != nil {
		return nil, fmt.Errorf("transport/serial: open %s: %w", cfg.Address, err)
	}
	return &Port{cfg: cfg, port: port}, nil
}

// Close closes the underlying serial line.
func (p *Port) Close() error {
	return p.port.Close()
}

// PlatformConf returns a modbus.PlatformConf bound to this port,
// suitable for modbus.NewClient or modbus.NewServer.
func (p *Port) PlatformConf() modbus.PlatformConf {
	return modbus.PlatformConf{
		Transport: modbus.TransportRTU,
		ReadByte:  p.readByte,
		WriteByte: p.writeByte,
		Sleep:     sleepByte,
	}
}

func (p *Port) readByte(_ int32, _ any) (byte, modbus.IOResult) {
	var buf [1]byte
	n, err := p.port.Read(buf[:])
	switch {
	case err != nil:
		slog.Debug("transport/serial: read byte", "error", err)
		return 0, modbus.IOError
	case n == 0:
		return 0, modbus.IOTimeout
	default:
		return buf[0], modbus.IOOK
	}
}

func (p *Port) writeByte(b byte, _ int32, _ any) modbus.IOResult {
	n, err := p.port.Write([]byte{b})
	switch {
	case err != nil:
		slog.Debug("transport/serial: write byte", "error", err)
		return modbus.IOError
	case n == 0:
		return modbus.IOTimeout
	default:
		return modbus.IOOK
	}
}

func sleepByte(ms uint32, _ any) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}
