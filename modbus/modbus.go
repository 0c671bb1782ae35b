// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus implements a compact, embeddable MODBUS-RTU and
// MODBUS-TCP protocol engine, usable as either client (master) or
// server (slave). The engine owns no transport, timer or thread: byte
// I/O, connection management and the application data model are all
// supplied by the caller. It is not safe for concurrent use by
// multiple goroutines on the same instance.
package modbus

import (
	"fmt"
	"time"
)

// IOResult is the three-way outcome a platform byte callback reports.
type IOResult int8

const (
	// IOError means the callback hit a transport failure.
	IOError IOResult = -1
	// IOTimeout means no byte was available before the deadline (read)
	// or the byte could not be written before the deadline (write).
	IOTimeout IOResult = 0
	// IOOK means exactly one byte was read or written.
	IOOK IOResult = 1
)

// noDeadlineMs is passed to a platform callback to mean "block
// indefinitely": both the message and byte deadlines are disabled.
const noDeadlineMs int32 = -1

// ReadByteFunc reads a single byte from the transport, blocking up to
// timeoutMs milliseconds (or indefinitely if timeoutMs is negative).
type ReadByteFunc func(timeoutMs int32, arg any) (b byte, result IOResult)

// WriteByteFunc writes a single byte to the transport, blocking up to
// timeoutMs milliseconds (or indefinitely if timeoutMs is negative).
// A write that cannot complete before the deadline must report
// IOTimeout, never a partial write.
type WriteByteFunc func(b byte, timeoutMs int32, arg any) (result IOResult)

// SleepFunc pauses for the given number of milliseconds.
type SleepFunc func(ms uint32, arg any)

// Transport selects the framing discipline: MODBUS-RTU (serial, with
// a unit address and a CRC-16/MODBUS trailer) or MODBUS-TCP (a 7-byte
// MBAP header, no CRC).
type Transport uint8

const (
	TransportRTU Transport = iota + 1
	TransportTCP
)

func (t Transport) String() string {
	switch t {
	case TransportRTU:
		return "rtu"
	case TransportTCP:
		return "tcp"
	default:
		return fmt.Sprintf("transport(%d)", uint8(t))
	}
}

// PlatformConf supplies the byte-oriented transport callbacks the
// engine blocks on. It never owns the connection: opening, closing
// and reconnecting the underlying serial port or socket is entirely
// the caller's responsibility.
type PlatformConf struct {
	Transport Transport
	ReadByte  ReadByteFunc
	WriteByte WriteByteFunc
	Sleep     SleepFunc
	// Arg is opaque user data passed back to every callback. It may be
	// changed after creation with SetPlatformArg.
	Arg any
}

func (p PlatformConf) valid() bool {
	return p.ReadByte != nil && p.WriteByte != nil && p.Sleep != nil &&
		(p.Transport == TransportRTU || p.Transport == TransportTCP)
}

// Callbacks are the eight server-side request handlers backing the
// application data model (coil/register storage). Any nil callback
// makes its function code respond with ExceptionIllegalFunction.
// Returning a LocalError from a callback aborts the current Poll
// without responding; returning an ExceptionCode builds the matching
// exception response.
type Callbacks struct {
	ReadCoils              func(address, quantity uint16, coilsOut *Bitfield) error
	ReadDiscreteInputs     func(address, quantity uint16, inputsOut *Bitfield) error
	ReadHoldingRegisters   func(address, quantity uint16, registersOut []uint16) error
	ReadInputRegisters     func(address, quantity uint16, registersOut []uint16) error
	WriteSingleCoil        func(address uint16, value bool) error
	WriteSingleRegister    func(address, value uint16) error
	WriteMultipleCoils     func(address, quantity uint16, coils *Bitfield) error
	WriteMultipleRegisters func(address, quantity uint16, registers []uint16) error
}

type role uint8

const (
	roleClient role = iota + 1
	roleServer
)

// Engine is a MODBUS protocol instance: either a client or a server,
// bound at creation to one transport kind. It is a value type holding
// a fixed 260-byte message scratch buffer and no other allocation;
// create one per logical peer, use it serially, and discard it.
type Engine struct {
	role      role
	transport Transport
	platform  PlatformConf
	callbacks Callbacks

	readTimeoutMs int32
	byteTimeoutMs int32
	byteSpacingMs uint32

	addressRTU     uint8 // server's own RTU address; unused on TCP
	destAddressRTU uint8 // client's destination for the next RTU request
	currentTID     uint16

	msg message
}

// message is the engine's per-frame scratch state, reused across
// calls and mutated only by the call currently in flight.
type message struct {
	buf           [maxMessageSize]byte
	idx           int
	unitID        uint8
	fc            FunctionCode
	transactionID uint16
	broadcast     bool
	ignored       bool
	// deadline is the message-scoped receive deadline captured by
	// SendRawPDU and consumed by the matching ReceiveRawPDUResponse,
	// which run as two separate calls rather than one doRequest.
	deadline time.Time
}

// NewClient creates a MODBUS client bound to the given platform
// configuration.
func NewClient(conf PlatformConf) (*Engine, error) {
	if !conf.valid() {
		return nil, ErrInvalidArgument
	}
	return &Engine{
		role:          roleClient,
		transport:     conf.Transport,
		platform:      conf,
		readTimeoutMs: noDeadlineMs,
		byteTimeoutMs: noDeadlineMs,
	}, nil
}

// NewServer creates a MODBUS server bound to the given platform
// configuration and request callbacks. addressRTU is this server's own
// RTU unit address (1..247); it is ignored on TCP, but an RTU server
// created with address 0 is treated as a configuration error rather
// than an implicit broadcast-only listener.
func NewServer(addressRTU uint8, conf PlatformConf, callbacks Callbacks) (*Engine, error) {
	if !conf.valid() {
		return nil, ErrInvalidArgument
	}
	if conf.Transport == TransportRTU && (addressRTU == 0 || addressRTU > 247) {
		return nil, ErrInvalidArgument
	}
	return &Engine{
		role:          roleServer,
		transport:     conf.Transport,
		platform:      conf,
		callbacks:     callbacks,
		addressRTU:    addressRTU,
		readTimeoutMs: noDeadlineMs,
		byteTimeoutMs: noDeadlineMs,
	}, nil
}

// SetReadTimeout sets the message-scoped timeout: on a server, the
// maximum time Poll blocks waiting for a request; on a client, the
// maximum time to wait for a response after sending a request. A
// negative value disables the deadline.
func (e *Engine) SetReadTimeout(timeoutMs int32) {
	e.readTimeoutMs = timeoutMs
}

// SetByteTimeout sets the maximum time allowed between two consecutive
// bytes of one message, for both reads and writes. A negative value
// disables the deadline.
func (e *Engine) SetByteTimeout(timeoutMs int32) {
	e.byteTimeoutMs = timeoutMs
}

// SetByteSpacing sets the pause enforced between transmitted bytes.
// Ignored when the transport is not RTU.
func (e *Engine) SetByteSpacing(spacingMs uint32) {
	e.byteSpacingMs = spacingMs
}

// SetPlatformArg replaces the opaque user-data argument passed to the
// platform callbacks.
func (e *Engine) SetPlatformArg(arg any) {
	e.platform.Arg = arg
}

// SetDestinationRTUAddress sets the recipient server address of the
// next request on RTU transport. Client-only; BroadcastAddress (0)
// means "every server", and the client will not wait for a response.
func (e *Engine) SetDestinationRTUAddress(address uint8) {
	e.destAddressRTU = address
}

func (e *Engine) sleep(ms uint32) {
	if ms == 0 {
		return
	}
	e.platform.Sleep(ms, e.platform.Arg)
}

// deadline converts a configured signed-ms timeout into an absolute
// time.Time, or the zero Time if the timeout is disabled (negative).
func deadline(timeoutMs int32) time.Time {
	if timeoutMs < 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
}

// remainingMs returns the milliseconds left until d, clamped to
// [0, math.MaxInt32], or noDeadlineMs if d is the zero Time (disabled).
func remainingMs(d time.Time) int32 {
	if d.IsZero() {
		return noDeadlineMs
	}
	remaining := time.Until(d)
	if remaining <= 0 {
		return 0
	}
	ms := remaining.Milliseconds()
	if ms > int64(1<<31-1) {
		return 1<<31 - 1
	}
	return int32(ms)
}
