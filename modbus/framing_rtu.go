// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"errors"
	"time"

	"github.com/ffutop/nanomodbus-go/modbus/crc"
)

// errRTUFrameDropped signals a CRC-corrupted RTU request frame on the
// server receive path: Poll treats it like an unaddressed frame
// (consumed, no response, no error), never surfacing it to the caller.
// It never escapes this package.
var errRTUFrameDropped = errors.New("modbus: rtu request frame dropped (crc mismatch)")

// sendRTU transmits unitID followed by pdu, trailed by a
// CRC-16/MODBUS computed over both.
func (e *Engine) sendRTU(unitID uint8, pdu []byte) error {
	if len(pdu)+4 > len(e.msg.buf) {
		return ErrInvalidArgument
	}
	frame := e.msg.buf[:1+len(pdu)+2]
	frame[0] = unitID
	copy(frame[1:], pdu)

	var c crc.CRC
	c.Reset().PushBytes(frame[:1+len(pdu)])
	checksum := c.Value()
	frame[1+len(pdu)] = byte(checksum)
	frame[1+len(pdu)+1] = byte(checksum >> 8)

	return e.putBytes(frame)
}

// readRequestBody reads the bytes that follow the function code in an
// RTU *request* for fc. For the write-multiple codes the count is read
// from the wire because it is itself part of the body (addr, qty,
// byteCount, data).
func (e *Engine) readRequestBody(msgDeadline time.Time, fc FunctionCode) error {
	switch fc {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs, FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters,
		FuncCodeWriteSingleCoil, FuncCodeWriteSingleRegister:
		return e.getBytes(4, msgDeadline)
	case FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
		if err := e.getBytes(5, msgDeadline); err != nil {
			return err
		}
		byteCount := e.msg.buf[e.msg.idx-1]
		return e.getBytes(int(byteCount), msgDeadline)
	default:
		// Unsupported function code: the wire shape is unknown to this
		// engine. Fall back to the common 4-byte fixed body. A request
		// whose real body is longer fails the trailing CRC check and
		// is dropped; one whose body is shorter waits for more bytes
		// until the read deadline; one with a 4-byte body reaches
		// dispatch and is answered with ExceptionIllegalFunction.
		return e.getBytes(4, msgDeadline)
	}
}

// receiveRequestRTU reads one RTU request frame addressed to any unit,
// used by the server. It returns the unit id and the PDU (function
// code plus body) with the CRC stripped and validated. A CRC mismatch
// yields errRTUFrameDropped rather than ErrInvalidResponse: an RTU
// server silently drops a corrupted frame instead of reporting it as a
// hard error, since it has no peer to report an invalid response to.
func (e *Engine) receiveRequestRTU(msgDeadline time.Time) (unitID uint8, pdu []byte, err error) {
	if err = e.getBytes(2, msgDeadline); err != nil {
		return 0, nil, err
	}
	unitID = e.msg.buf[0]
	fc := FunctionCode(e.msg.buf[1])

	if err = e.readRequestBody(msgDeadline, fc); err != nil {
		return 0, nil, err
	}
	bodyEnd := e.msg.idx
	if err = e.getBytes(2, msgDeadline); err != nil {
		return 0, nil, err
	}

	var c crc.CRC
	c.Reset().PushBytes(e.msg.buf[:bodyEnd])
	want := c.Value()
	got := uint16(e.msg.buf[bodyEnd]) | uint16(e.msg.buf[bodyEnd+1])<<8
	if want != got {
		return 0, nil, errRTUFrameDropped
	}
	return unitID, e.msg.buf[1:bodyEnd], nil
}

// receiveResponseRTU reads one RTU response frame for a request sent
// to destUnitID with function code requestFC. It returns the PDU
// (function code plus body, or requestFC|0x80 plus the exception code)
// with the CRC stripped and validated.
func (e *Engine) receiveResponseRTU(msgDeadline time.Time, destUnitID uint8, requestFC FunctionCode) (pdu []byte, err error) {
	if err = e.getBytes(2, msgDeadline); err != nil {
		return nil, err
	}
	respUnitID := e.msg.buf[0]
	fc := FunctionCode(e.msg.buf[1])

	switch {
	case fc == requestFC|exceptionBit:
		if err = e.getBytes(1, msgDeadline); err != nil {
			return nil, err
		}
	case fc == requestFC:
		hasByteCount := requestFC == FuncCodeReadCoils || requestFC == FuncCodeReadDiscreteInputs ||
			requestFC == FuncCodeReadHoldingRegisters || requestFC == FuncCodeReadInputRegisters
		if hasByteCount {
			if err = e.getBytes(1, msgDeadline); err != nil {
				return nil, err
			}
			byteCount := e.msg.buf[e.msg.idx-1]
			if err = e.getBytes(int(byteCount), msgDeadline); err != nil {
				return nil, err
			}
		} else {
			if err = e.getBytes(4, msgDeadline); err != nil {
				return nil, err
			}
		}
	default:
		return nil, ErrInvalidResponse
	}

	bodyEnd := e.msg.idx
	if err = e.getBytes(2, msgDeadline); err != nil {
		return nil, err
	}
	var c crc.CRC
	c.Reset().PushBytes(e.msg.buf[:bodyEnd])
	want := c.Value()
	got := uint16(e.msg.buf[bodyEnd]) | uint16(e.msg.buf[bodyEnd+1])<<8
	if want != got {
		return nil, ErrInvalidResponse
	}
	if respUnitID != destUnitID {
		return nil, ErrInvalidResponse
	}
	return e.msg.buf[1:bodyEnd], nil
}
