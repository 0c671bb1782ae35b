// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package tcpconn adapts a net.Conn to the byte-callback contract
// modbus.PlatformConf expects, so an *modbus.Engine can drive a real
// MODBUS-TCP socket.
package tcpconn

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/ffutop/nanomodbus-go/modbus"
)

// Conn wraps an open TCP connection.
type Conn struct {
	conn net.Conn
}

// Dial opens a TCP connection to address, failing if it does not
// succeed within timeout.
func Dial(address string, timeout time.Duration) (*Conn, error) {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, fmt.Errorf("transport/tcpconn: dial %s: %w", address, err)
	}
	return &Conn{conn: conn}, nil
}

// Wrap adapts an already-connected net.Conn, e.g. one accepted by a
// net.Listener.
func Wrap(conn net.Conn) *Conn {
	return &Conn{conn: conn}
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// PlatformConf returns a modbus.PlatformConf bound to this
// connection, suitable for modbus.NewClient or modbus.NewServer.
func (c *Conn) PlatformConf() modbus.PlatformConf {
	return modbus.PlatformConf{
		Transport: modbus.TransportTCP,
		ReadByte:  c.readByte,
		WriteByte: c.writeByte,
		Sleep:     sleepByte,
	}
}

// PlatformConfRTU returns a modbus.PlatformConf bound to this
// connection using RTU framing (unit address byte, CRC-16 trailer)
// instead of the MBAP header, for a MODBUS-RTU-over-TCP upstream: the
// same byte stream, carrying serial-line framing instead of a socket's
// own.
func (c *Conn) PlatformConfRTU() modbus.PlatformConf {
	conf := c.PlatformConf()
	conf.Transport = modbus.TransportRTU
	return conf
}

func (c *Conn) readByte(timeoutMs int32, _ any) (byte, modbus.IOResult) {
	if err := c.setReadDeadline(timeoutMs); err != nil {
		slog.Debug("transport/tcpconn: set read deadline", "error", err)
	}
	var buf [1]byte
	_, err := c.conn.Read(buf[:])
	switch {
	case err == nil:
		return buf[0], modbus.IOOK
	case isTimeout(err):
		return 0, modbus.IOTimeout
	default:
		slog.Debug("transport/tcpconn: read byte", "error", err)
		return 0, modbus.IOError
	}
}

func (c *Conn) writeByte(b byte, timeoutMs int32, _ any) modbus.IOResult {
	if err := c.conn.SetWriteDeadline(byteDeadline(timeoutMs)); err != nil {
		slog.Debug("transport/tcpconn: set write deadline", "error", err)
	}
	_, err := c.conn.Write([]byte{b})
	switch {
	case err == nil:
		return modbus.IOOK
	case isTimeout(err):
		return modbus.IOTimeout
	default:
		slog.Debug("transport/tcpconn: write byte", "error", err)
		return modbus.IOError
	}
}

func (c *Conn) setReadDeadline(timeoutMs int32) error {
	return c.conn.SetReadDeadline(byteDeadline(timeoutMs))
}

func byteDeadline(timeoutMs int32) time.Time {
	if timeoutMs < 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
}

func sleepByte(ms uint32, _ any) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

func isTimeout(err error) bool {
	var ne net.Error
	if ok := asNetError(err, &ne); ok {
		return ne.Timeout()
	}
	return os.IsTimeout(err)
}

func asNetError(err error, target *net.Error) bool {
	if ne, ok := err.(net.Error); ok {
		*target = ne
		return true
	}
	return false
}
