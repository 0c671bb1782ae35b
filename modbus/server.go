// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "encoding/binary"

// Poll waits for one request, dispatches it to the matching Callbacks
// entry and, unless the request was an RTU broadcast, sends the
// response. It blocks according to the read timeout configured with
// SetReadTimeout and returns ErrTimeout if none arrives in time.
//
// A request addressed to a different RTU unit, or an RTU frame whose
// CRC does not check out, is consumed and discarded: Poll returns nil
// without invoking any callback. A callback returning a LocalError
// aborts the exchange with no response sent, and that error is
// returned from Poll even for a broadcast request; a callback
// returning an ExceptionCode causes the matching exception response to
// be sent, except under RTU broadcast where no response is ever sent
// and the exception is simply swallowed, and Poll returns nil.
func (e *Engine) Poll() error {
	if e.role != roleServer {
		return ErrInvalidArgument
	}

	msgDeadline := e.beginMessage()

	var unitID uint8
	var tid uint16
	var pdu []byte
	var err error
	switch e.transport {
	case TransportRTU:
		unitID, pdu, err = e.receiveRequestRTU(msgDeadline)
	case TransportTCP:
		tid, unitID, pdu, err = e.receiveTCP(msgDeadline)
	default:
		return ErrInvalidArgument
	}
	if err == errRTUFrameDropped {
		return nil
	}
	if err != nil {
		return err
	}
	if len(pdu) < 1 {
		return nil
	}

	broadcast := e.transport == TransportRTU && unitID == BroadcastAddress
	if e.transport == TransportRTU && !broadcast && unitID != e.addressRTU {
		return nil
	}

	fc := FunctionCode(pdu[0])
	respBody, dispatchErr := e.dispatch(fc, pdu[1:])

	if broadcast {
		if lerr, ok := dispatchErr.(LocalError); ok {
			return lerr
		}
		return nil
	}

	var respScratch [maxPDUSize]byte
	var respPDU []byte
	switch {
	case dispatchErr == nil:
		respScratch[0] = byte(fc)
		n := copy(respScratch[1:], respBody)
		respPDU = respScratch[:1+n]
	default:
		if lerr, ok := dispatchErr.(LocalError); ok {
			return lerr
		}
		ec, ok := IsException(dispatchErr)
		if !ok {
			ec = ExceptionServerDeviceFailure
		}
		respPDU = respScratch[:2]
		respPDU[0] = byte(fc | exceptionBit)
		respPDU[1] = byte(ec)
	}

	switch e.transport {
	case TransportRTU:
		return e.sendRTU(e.addressRTU, respPDU)
	case TransportTCP:
		return e.sendTCP(tid, unitID, respPDU)
	default:
		return ErrInvalidArgument
	}
}

// dispatch routes one request body to its Callbacks handler and
// returns the response body (function code stripped), or an
// ExceptionCode/LocalError describing why it could not.
func (e *Engine) dispatch(fc FunctionCode, reqBody []byte) ([]byte, error) {
	switch fc {
	case FuncCodeReadCoils:
		return e.dispatchReadBits(reqBody, maxReadBits, e.callbacks.ReadCoils)
	case FuncCodeReadDiscreteInputs:
		return e.dispatchReadBits(reqBody, maxReadBits, e.callbacks.ReadDiscreteInputs)
	case FuncCodeReadHoldingRegisters:
		return e.dispatchReadRegisters(reqBody, maxReadRegisters, e.callbacks.ReadHoldingRegisters)
	case FuncCodeReadInputRegisters:
		return e.dispatchReadRegisters(reqBody, maxReadRegisters, e.callbacks.ReadInputRegisters)
	case FuncCodeWriteSingleCoil:
		return e.dispatchWriteSingleCoil(reqBody)
	case FuncCodeWriteSingleRegister:
		return e.dispatchWriteSingleRegister(reqBody)
	case FuncCodeWriteMultipleCoils:
		return e.dispatchWriteMultipleCoils(reqBody)
	case FuncCodeWriteMultipleRegisters:
		return e.dispatchWriteMultipleRegisters(reqBody)
	default:
		return nil, ExceptionIllegalFunction
	}
}

func readAddrQty(reqBody []byte) (address, quantity uint16, ok bool) {
	if len(reqBody) != 4 {
		return 0, 0, false
	}
	return binary.BigEndian.Uint16(reqBody[0:2]), binary.BigEndian.Uint16(reqBody[2:4]), true
}

func (e *Engine) dispatchReadBits(reqBody []byte, maxQty uint16, cb func(address, quantity uint16, out *Bitfield) error) ([]byte, error) {
	if cb == nil {
		return nil, ExceptionIllegalFunction
	}
	address, quantity, ok := readAddrQty(reqBody)
	if !ok || quantity < 1 || quantity > maxQty {
		return nil, ExceptionIllegalDataValue
	}
	if int(address)+int(quantity) > 0x10000 {
		return nil, ExceptionIllegalDataAddress
	}

	var bits Bitfield
	if err := cb(address, quantity, &bits); err != nil {
		return nil, err
	}

	byteCount := (quantity + 7) / 8
	resp := make([]byte, 1+byteCount)
	resp[0] = byte(byteCount)
	packBits(&bits, quantity, resp[1:])
	return resp, nil
}

func (e *Engine) dispatchReadRegisters(reqBody []byte, maxQty uint16, cb func(address, quantity uint16, out []uint16) error) ([]byte, error) {
	if cb == nil {
		return nil, ExceptionIllegalFunction
	}
	address, quantity, ok := readAddrQty(reqBody)
	if !ok || quantity < 1 || quantity > maxQty {
		return nil, ExceptionIllegalDataValue
	}
	if int(address)+int(quantity) > 0x10000 {
		return nil, ExceptionIllegalDataAddress
	}

	registers := make([]uint16, quantity)
	if err := cb(address, quantity, registers); err != nil {
		return nil, err
	}

	resp := make([]byte, 1+int(quantity)*2)
	resp[0] = byte(quantity * 2)
	for i, v := range registers {
		binary.BigEndian.PutUint16(resp[1+2*i:], v)
	}
	return resp, nil
}

func (e *Engine) dispatchWriteSingleCoil(reqBody []byte) ([]byte, error) {
	if e.callbacks.WriteSingleCoil == nil {
		return nil, ExceptionIllegalFunction
	}
	address, rawValue, ok := readAddrQty(reqBody)
	if !ok {
		return nil, ExceptionIllegalDataValue
	}
	if rawValue != coilOnValue && rawValue != coilOffValue {
		return nil, ExceptionIllegalDataValue
	}

	if err := e.callbacks.WriteSingleCoil(address, rawValue == coilOnValue); err != nil {
		return nil, err
	}
	return reqBody, nil
}

func (e *Engine) dispatchWriteSingleRegister(reqBody []byte) ([]byte, error) {
	if e.callbacks.WriteSingleRegister == nil {
		return nil, ExceptionIllegalFunction
	}
	address, value, ok := readAddrQty(reqBody)
	if !ok {
		return nil, ExceptionIllegalDataValue
	}

	if err := e.callbacks.WriteSingleRegister(address, value); err != nil {
		return nil, err
	}
	return reqBody, nil
}

func (e *Engine) dispatchWriteMultipleCoils(reqBody []byte) ([]byte, error) {
	if e.callbacks.WriteMultipleCoils == nil {
		return nil, ExceptionIllegalFunction
	}
	if len(reqBody) < 5 {
		return nil, ExceptionIllegalDataValue
	}
	address := binary.BigEndian.Uint16(reqBody[0:2])
	quantity := binary.BigEndian.Uint16(reqBody[2:4])
	byteCount := reqBody[4]
	if quantity < 1 || quantity > maxWriteMultipleBits {
		return nil, ExceptionIllegalDataValue
	}
	if byteCount != byte((quantity+7)/8) || len(reqBody) != 5+int(byteCount) {
		return nil, ExceptionIllegalDataValue
	}
	if int(address)+int(quantity) > 0x10000 {
		return nil, ExceptionIllegalDataAddress
	}

	var bits Bitfield
	unpackBits(reqBody[5:], quantity, &bits)
	if err := e.callbacks.WriteMultipleCoils(address, quantity, &bits); err != nil {
		return nil, err
	}
	return reqBody[:4], nil
}

func (e *Engine) dispatchWriteMultipleRegisters(reqBody []byte) ([]byte, error) {
	if e.callbacks.WriteMultipleRegisters == nil {
		return nil, ExceptionIllegalFunction
	}
	if len(reqBody) < 5 {
		return nil, ExceptionIllegalDataValue
	}
	address := binary.BigEndian.Uint16(reqBody[0:2])
	quantity := binary.BigEndian.Uint16(reqBody[2:4])
	byteCount := reqBody[4]
	if quantity < 1 || quantity > maxWriteRegisters {
		return nil, ExceptionIllegalDataValue
	}
	if byteCount != byte(quantity*2) || len(reqBody) != 5+int(byteCount) {
		return nil, ExceptionIllegalDataValue
	}
	if int(address)+int(quantity) > 0x10000 {
		return nil, ExceptionIllegalDataAddress
	}

	registers := make([]uint16, quantity)
	for i := uint16(0); i < quantity; i++ {
		registers[i] = binary.BigEndian.Uint16(reqBody[5+2*i:])
	}
	if err := e.callbacks.WriteMultipleRegisters(address, quantity, registers); err != nil {
		return nil, err
	}
	return reqBody[:4], nil
}
