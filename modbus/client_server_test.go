// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"net"
	"testing"
	"time"
)

// pipePlatform adapts one end of a net.Pipe to PlatformConf, so a
// client Engine and a server Engine can be driven against each other
// without any real socket or serial port.
func pipePlatform(conn net.Conn, transport Transport) PlatformConf {
	return PlatformConf{
		Transport: transport,
		ReadByte: func(timeoutMs int32, _ any) (byte, IOResult) {
			conn.SetReadDeadline(msDeadline(timeoutMs))
			var buf [1]byte
			_, err := conn.Read(buf[:])
			switch {
			case err == nil:
				return buf[0], IOOK
			case isNetTimeout(err):
				return 0, IOTimeout
			default:
				return 0, IOError
			}
		},
		WriteByte: func(b byte, timeoutMs int32, _ any) IOResult {
			conn.SetWriteDeadline(msDeadline(timeoutMs))
			_, err := conn.Write([]byte{b})
			switch {
			case err == nil:
				return IOOK
			case isNetTimeout(err):
				return IOTimeout
			default:
				return IOError
			}
		},
		Sleep: func(ms uint32, _ any) { time.Sleep(time.Duration(ms) * time.Millisecond) },
	}
}

func msDeadline(ms int32) time.Time {
	if ms < 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(ms) * time.Millisecond)
}

func isNetTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// noopPlatform is a valid, never-driven PlatformConf for tests that
// only exercise argument validation before any I/O happens.
func noopPlatform(transport Transport) PlatformConf {
	return PlatformConf{
		Transport: transport,
		ReadByte:  func(int32, any) (byte, IOResult) { return 0, IOTimeout },
		WriteByte: func(byte, int32, any) IOResult { return IOTimeout },
		Sleep:     func(uint32, any) {},
	}
}

func TestClientServerTCP_ReadHoldingRegisters(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	cb := Callbacks{
		ReadHoldingRegisters: func(address, quantity uint16, out []uint16) error {
			for i := range out {
				out[i] = address + uint16(i)
			}
			return nil
		},
	}
	srv, err := NewServer(1, pipePlatform(serverConn, TransportTCP), cb)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv.SetReadTimeout(2000)
	done := make(chan error, 1)
	go func() { done <- srv.Poll() }()

	cli, err := NewClient(pipePlatform(clientConn, TransportTCP))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	cli.SetReadTimeout(2000)

	values := make([]uint16, 3)
	if err := cli.ReadHoldingRegisters(10, 3, values); err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	want := []uint16{10, 11, 12}
	for i, v := range values {
		if v != want[i] {
			t.Errorf("values[%d] = %d, want %d", i, v, want[i])
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("Poll: %v", err)
	}
}

func TestClientServerRTU_WriteSingleCoilAndReadCoils(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	var written bool
	var writtenAddr uint16
	cb := Callbacks{
		WriteSingleCoil: func(address uint16, value bool) error {
			writtenAddr = address
			written = value
			return nil
		},
		ReadCoils: func(address, quantity uint16, out *Bitfield) error {
			out.Reset()
			out.Write(0, written)
			return nil
		},
	}
	srv, err := NewServer(5, pipePlatform(serverConn, TransportRTU), cb)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv.SetReadTimeout(2000)

	cli, err := NewClient(pipePlatform(clientConn, TransportRTU))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	cli.SetReadTimeout(2000)
	cli.SetDestinationRTUAddress(5)

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Poll() }()
	if err := cli.WriteSingleCoil(42, true); err != nil {
		t.Fatalf("WriteSingleCoil: %v", err)
	}
	if err := <-srvErr; err != nil {
		t.Fatalf("Poll (write): %v", err)
	}
	if !written || writtenAddr != 42 {
		t.Fatalf("callback saw address=%d value=%v, want 42/true", writtenAddr, written)
	}

	go func() { srvErr <- srv.Poll() }()
	var bits Bitfield
	if err := cli.ReadCoils(0, 1, &bits); err != nil {
		t.Fatalf("ReadCoils: %v", err)
	}
	if !bits.Read(0) {
		t.Fatalf("read back coil 0 = false, want true")
	}
	if err := <-srvErr; err != nil {
		t.Fatalf("Poll (read): %v", err)
	}
}

func TestClientServerRTU_Broadcast(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	invoked := make(chan uint16, 1)
	cb := Callbacks{
		WriteSingleRegister: func(address, value uint16) error {
			invoked <- value
			return nil
		},
	}
	srv, err := NewServer(5, pipePlatform(serverConn, TransportRTU), cb)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv.SetReadTimeout(2000)
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Poll() }()

	cli, err := NewClient(pipePlatform(clientConn, TransportRTU))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	cli.SetReadTimeout(2000)
	cli.SetDestinationRTUAddress(BroadcastAddress)

	if err := cli.WriteSingleRegister(1, 99); err != nil {
		t.Fatalf("broadcast WriteSingleRegister: %v", err)
	}
	select {
	case v := <-invoked:
		if v != 99 {
			t.Errorf("callback saw value %d, want 99", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never dispatched the broadcast request")
	}
	if err := <-srvErr; err != nil {
		t.Fatalf("Poll: %v", err)
	}
}

func TestClientServerRTU_BroadcastLocalErrorAborted(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	cb := Callbacks{
		WriteSingleRegister: func(address, value uint16) error {
			return ErrTransport
		},
	}
	srv, err := NewServer(5, pipePlatform(serverConn, TransportRTU), cb)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv.SetReadTimeout(2000)
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Poll() }()

	cli, err := NewClient(pipePlatform(clientConn, TransportRTU))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	cli.SetReadTimeout(2000)
	cli.SetDestinationRTUAddress(BroadcastAddress)

	if err := cli.WriteSingleRegister(1, 99); err != nil {
		t.Fatalf("broadcast WriteSingleRegister: %v", err)
	}
	if err := <-srvErr; err != ErrTransport {
		t.Fatalf("Poll: got %v, want ErrTransport even under broadcast", err)
	}
}

func TestClientServerRTU_CorruptedFrameDroppedSilently(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	called := false
	cb := Callbacks{
		ReadHoldingRegisters: func(address, quantity uint16, out []uint16) error {
			called = true
			return nil
		},
	}
	srv, err := NewServer(5, pipePlatform(serverConn, TransportRTU), cb)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv.SetReadTimeout(2000)
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Poll() }()

	// unit=5, fc=ReadHoldingRegisters, addr=0, qty=1, followed by a
	// CRC that does not match the frame: a corrupted frame on the
	// wire, not a framing bug.
	frame := []byte{5, byte(FuncCodeReadHoldingRegisters), 0, 0, 0, 1, 0xDE, 0xAD}
	if _, err := clientConn.Write(frame); err != nil {
		t.Fatalf("write corrupted frame: %v", err)
	}

	if err := <-srvErr; err != nil {
		t.Fatalf("Poll: got %v, want nil for a CRC-corrupted request frame", err)
	}
	if called {
		t.Fatal("callback invoked for a CRC-corrupted request frame")
	}
}

func TestClientServerRTU_OtherUnitIDDiscarded(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	called := false
	cb := Callbacks{
		ReadHoldingRegisters: func(address, quantity uint16, out []uint16) error {
			called = true
			return nil
		},
	}
	srv, err := NewServer(5, pipePlatform(serverConn, TransportRTU), cb)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv.SetReadTimeout(2000)
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Poll() }()

	cli, err := NewClient(pipePlatform(clientConn, TransportRTU))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	cli.SetReadTimeout(200)
	cli.SetDestinationRTUAddress(9)

	values := make([]uint16, 1)
	err = cli.ReadHoldingRegisters(0, 1, values)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout waiting for a server at a different unit id, got %v", err)
	}
	if err := <-srvErr; err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if called {
		t.Fatal("callback invoked for a request addressed to a different unit id")
	}
}

func TestClientServerTCP_ExceptionIllegalFunction(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	srv, err := NewServer(1, pipePlatform(serverConn, TransportTCP), Callbacks{})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv.SetReadTimeout(2000)
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Poll() }()

	cli, err := NewClient(pipePlatform(clientConn, TransportTCP))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	cli.SetReadTimeout(2000)

	values := make([]uint16, 1)
	err = cli.ReadHoldingRegisters(0, 1, values)
	ec, ok := IsException(err)
	if !ok || ec != ExceptionIllegalFunction {
		t.Fatalf("expected ExceptionIllegalFunction, got %v", err)
	}
	if err := <-srvErr; err != nil {
		t.Fatalf("Poll: %v", err)
	}
}

func TestClientServerTCP_WriteMultipleRegisters(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	got := make(map[uint16]uint16)
	cb := Callbacks{
		WriteMultipleRegisters: func(address, quantity uint16, registers []uint16) error {
			for i, v := range registers {
				got[address+uint16(i)] = v
			}
			return nil
		},
	}
	srv, err := NewServer(1, pipePlatform(serverConn, TransportTCP), cb)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv.SetReadTimeout(2000)
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Poll() }()

	cli, err := NewClient(pipePlatform(clientConn, TransportTCP))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	cli.SetReadTimeout(2000)

	if err := cli.WriteMultipleRegisters(100, 3, []uint16{7, 8, 9}); err != nil {
		t.Fatalf("WriteMultipleRegisters: %v", err)
	}
	if err := <-srvErr; err != nil {
		t.Fatalf("Poll: %v", err)
	}
	want := map[uint16]uint16{100: 7, 101: 8, 102: 9}
	for addr, v := range want {
		if got[addr] != v {
			t.Errorf("register %d = %d, want %d", addr, got[addr], v)
		}
	}
}

func TestClient_InvalidQuantityRejectedBeforeIO(t *testing.T) {
	cli, err := NewClient(noopPlatform(TransportTCP))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	values := make([]uint16, 1)
	if err := cli.ReadHoldingRegisters(0, 0, values); err != ErrInvalidArgument {
		t.Fatalf("quantity 0: got %v, want ErrInvalidArgument", err)
	}
	if err := cli.ReadHoldingRegisters(0, maxReadRegisters+1, values); err != ErrInvalidArgument {
		t.Fatalf("quantity over max: got %v, want ErrInvalidArgument", err)
	}
}

func TestNewServer_RTUAddressZeroRejected(t *testing.T) {
	if _, err := NewServer(0, noopPlatform(TransportRTU), Callbacks{}); err != ErrInvalidArgument {
		t.Fatalf("RTU server with address 0: got %v, want ErrInvalidArgument", err)
	}
	if _, err := NewServer(248, noopPlatform(TransportRTU), Callbacks{}); err != ErrInvalidArgument {
		t.Fatalf("RTU server with address 248: got %v, want ErrInvalidArgument", err)
	}
	// TCP ignores addressRTU entirely.
	if _, err := NewServer(0, noopPlatform(TransportTCP), Callbacks{}); err != nil {
		t.Fatalf("TCP server with address 0: got %v, want nil", err)
	}
}
