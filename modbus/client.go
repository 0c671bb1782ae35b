// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"encoding/binary"
)

// doRequest sends a request PDU (fc followed by reqBody) and, unless
// this is an RTU broadcast, waits for and validates the matching
// response. It returns the response body with the function code
// stripped, or an ExceptionCode if the peer reported a protocol
// exception.
func (e *Engine) doRequest(fc FunctionCode, reqBody []byte) ([]byte, error) {
	if e.role != roleClient {
		return nil, ErrInvalidArgument
	}
	if len(reqBody) > maxPDUSize-1 {
		return nil, ErrInvalidArgument
	}

	var scratch [maxPDUSize]byte
	scratch[0] = byte(fc)
	n := copy(scratch[1:], reqBody)
	body := scratch[:1+n]

	msgDeadline := e.beginMessage()

	var pdu []byte
	var err error
	switch e.transport {
	case TransportRTU:
		broadcast := e.destAddressRTU == BroadcastAddress
		if err = e.sendRTU(e.destAddressRTU, body); err != nil {
			return nil, err
		}
		if broadcast {
			return nil, nil
		}
		pdu, err = e.receiveResponseRTU(msgDeadline, e.destAddressRTU, fc)
	case TransportTCP:
		e.currentTID++
		tid := e.currentTID
		if err = e.sendTCP(tid, e.destAddressRTU, body); err != nil {
			return nil, err
		}
		pdu, err = e.receiveResponseTCP(msgDeadline, tid)
	default:
		return nil, ErrInvalidArgument
	}
	if err != nil {
		return nil, err
	}

	switch FunctionCode(pdu[0]) {
	case fc:
		return pdu[1:], nil
	case fc | exceptionBit:
		if len(pdu) != 2 {
			return nil, ErrInvalidResponse
		}
		ec := ExceptionCode(pdu[1])
		if !ec.valid() {
			return nil, ErrInvalidResponse
		}
		return nil, ec
	default:
		return nil, ErrInvalidResponse
	}
}

func validateAddrQuantity(address, quantity uint16, maxQuantity uint16) error {
	if quantity < 1 || quantity > maxQuantity {
		return ErrInvalidArgument
	}
	if int(address)+int(quantity) > 0x10000 {
		return ErrInvalidArgument
	}
	return nil
}

func (e *Engine) rejectsBroadcastRead() bool {
	return e.transport == TransportRTU && e.destAddressRTU == BroadcastAddress
}

func encodeAddrQty(address, quantity uint16) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint16(buf[0:2], address)
	binary.BigEndian.PutUint16(buf[2:4], quantity)
	return buf[:]
}

func unpackBits(data []byte, quantity uint16, out *Bitfield) {
	out.Reset()
	for i := uint16(0); i < quantity; i++ {
		byteIdx := i / 8
		bitIdx := i % 8
		if data[byteIdx]&(1<<bitIdx) != 0 {
			out.Write(i, true)
		}
	}
}

func packBits(coils *Bitfield, quantity uint16, out []byte) {
	for i := range out {
		out[i] = 0
	}
	for i := uint16(0); i < quantity; i++ {
		if coils.Read(i) {
			out[i/8] |= 1 << (i % 8)
		}
	}
}

// ReadCoils sends a FC 01 request and unpacks the response into
// coilsOut.
func (e *Engine) ReadCoils(address, quantity uint16, coilsOut *Bitfield) error {
	if err := validateAddrQuantity(address, quantity, maxReadBits); err != nil {
		return err
	}
	if e.rejectsBroadcastRead() {
		return ErrInvalidArgument
	}
	respBody, err := e.doRequest(FuncCodeReadCoils, encodeAddrQty(address, quantity))
	if err != nil {
		return err
	}
	return unpackReadBitsResponse(respBody, quantity, coilsOut)
}

// ReadDiscreteInputs sends a FC 02 request and unpacks the response
// into inputsOut.
func (e *Engine) ReadDiscreteInputs(address, quantity uint16, inputsOut *Bitfield) error {
	if err := validateAddrQuantity(address, quantity, maxReadBits); err != nil {
		return err
	}
	if e.rejectsBroadcastRead() {
		return ErrInvalidArgument
	}
	respBody, err := e.doRequest(FuncCodeReadDiscreteInputs, encodeAddrQty(address, quantity))
	if err != nil {
		return err
	}
	return unpackReadBitsResponse(respBody, quantity, inputsOut)
}

func unpackReadBitsResponse(respBody []byte, quantity uint16, out *Bitfield) error {
	if len(respBody) < 1 {
		return ErrInvalidResponse
	}
	count := respBody[0]
	expected := (quantity + 7) / 8
	if count != byte(expected) || len(respBody) != 1+int(count) {
		return ErrInvalidResponse
	}
	unpackBits(respBody[1:], quantity, out)
	return nil
}

// ReadHoldingRegisters sends a FC 03 request and decodes the response
// into registersOut, which must have length quantity.
func (e *Engine) ReadHoldingRegisters(address, quantity uint16, registersOut []uint16) error {
	if err := validateAddrQuantity(address, quantity, maxReadRegisters); err != nil {
		return err
	}
	if e.rejectsBroadcastRead() {
		return ErrInvalidArgument
	}
	respBody, err := e.doRequest(FuncCodeReadHoldingRegisters, encodeAddrQty(address, quantity))
	if err != nil {
		return err
	}
	return unpackReadRegistersResponse(respBody, quantity, registersOut)
}

// ReadInputRegisters sends a FC 04 request and decodes the response
// into registersOut, which must have length quantity.
func (e *Engine) ReadInputRegisters(address, quantity uint16, registersOut []uint16) error {
	if err := validateAddrQuantity(address, quantity, maxReadRegisters); err != nil {
		return err
	}
	if e.rejectsBroadcastRead() {
		return ErrInvalidArgument
	}
	respBody, err := e.doRequest(FuncCodeReadInputRegisters, encodeAddrQty(address, quantity))
	if err != nil {
		return err
	}
	return unpackReadRegistersResponse(respBody, quantity, registersOut)
}

func unpackReadRegistersResponse(respBody []byte, quantity uint16, out []uint16) error {
	if len(respBody) < 1 {
		return ErrInvalidResponse
	}
	count := respBody[0]
	if count != byte(quantity*2) || len(respBody) != 1+int(count) || len(out) < int(quantity) {
		return ErrInvalidResponse
	}
	for i := uint16(0); i < quantity; i++ {
		out[i] = binary.BigEndian.Uint16(respBody[1+2*i:])
	}
	return nil
}

// WriteSingleCoil sends a FC 05 request and validates the echoed
// response.
func (e *Engine) WriteSingleCoil(address uint16, value bool) error {
	v := coilOffValue
	if value {
		v = coilOnValue
	}
	reqBody := encodeAddrQty(address, v)
	respBody, err := e.doRequest(FuncCodeWriteSingleCoil, reqBody)
	if err != nil {
		return err
	}
	if respBody != nil && string(respBody) != string(reqBody) {
		return ErrInvalidResponse
	}
	return nil
}

// WriteSingleRegister sends a FC 06 request and validates the echoed
// response.
func (e *Engine) WriteSingleRegister(address, value uint16) error {
	reqBody := encodeAddrQty(address, value)
	respBody, err := e.doRequest(FuncCodeWriteSingleRegister, reqBody)
	if err != nil {
		return err
	}
	if respBody != nil && string(respBody) != string(reqBody) {
		return ErrInvalidResponse
	}
	return nil
}

// WriteMultipleCoils sends a FC 15 request and validates the echoed
// address/quantity response.
func (e *Engine) WriteMultipleCoils(address, quantity uint16, coils *Bitfield) error {
	if err := validateAddrQuantity(address, quantity, maxWriteMultipleBits); err != nil {
		return err
	}
	byteCount := (quantity + 7) / 8
	reqBody := make([]byte, 4+1+byteCount)
	copy(reqBody, encodeAddrQty(address, quantity))
	reqBody[4] = byte(byteCount)
	packBits(coils, quantity, reqBody[5:])

	respBody, err := e.doRequest(FuncCodeWriteMultipleCoils, reqBody)
	if err != nil {
		return err
	}
	return validateWriteMultipleEcho(respBody, address, quantity)
}

// WriteMultipleRegisters sends a FC 16 request and validates the
// echoed address/quantity response.
func (e *Engine) WriteMultipleRegisters(address, quantity uint16, registers []uint16) error {
	if err := validateAddrQuantity(address, quantity, maxWriteRegisters); err != nil {
		return err
	}
	if len(registers) < int(quantity) {
		return ErrInvalidArgument
	}
	reqBody := make([]byte, 4+1+int(quantity)*2)
	copy(reqBody, encodeAddrQty(address, quantity))
	reqBody[4] = byte(quantity * 2)
	for i := uint16(0); i < quantity; i++ {
		binary.BigEndian.PutUint16(reqBody[5+2*i:], registers[i])
	}

	respBody, err := e.doRequest(FuncCodeWriteMultipleRegisters, reqBody)
	if err != nil {
		return err
	}
	return validateWriteMultipleEcho(respBody, address, quantity)
}

func validateWriteMultipleEcho(respBody []byte, address, quantity uint16) error {
	if respBody == nil {
		return nil // broadcast
	}
	if len(respBody) != 4 {
		return ErrInvalidResponse
	}
	if binary.BigEndian.Uint16(respBody[0:2]) != address || binary.BigEndian.Uint16(respBody[2:4]) != quantity {
		return ErrInvalidResponse
	}
	return nil
}

// SendRawPDU sends an arbitrary function code and payload, computing
// and appending the transport framing (CRC on RTU, MBAP on TCP). The
// caller is responsible for converting data to network byte order.
// Pair with ReceiveRawPDUResponse to read back the response.
func (e *Engine) SendRawPDU(fc FunctionCode, data []byte) error {
	if e.role != roleClient {
		return ErrInvalidArgument
	}
	if len(data) > maxPDUSize-1 {
		return ErrInvalidArgument
	}

	var scratch [maxPDUSize]byte
	scratch[0] = byte(fc)
	n := copy(scratch[1:], data)
	body := scratch[:1+n]

	e.msg.fc = fc
	e.msg.deadline = e.beginMessage()

	switch e.transport {
	case TransportRTU:
		e.msg.unitID = e.destAddressRTU
		e.msg.broadcast = e.destAddressRTU == BroadcastAddress
		return e.sendRTU(e.destAddressRTU, body)
	case TransportTCP:
		e.currentTID++
		e.msg.transactionID = e.currentTID
		e.msg.broadcast = false
		return e.sendTCP(e.currentTID, e.destAddressRTU, body)
	default:
		return ErrInvalidArgument
	}
}

// ReceiveRawPDUResponse reads back the response to the last
// SendRawPDU call, copying its body (function code stripped) into
// dataOut and returning the number of bytes copied. If the peer
// reported a protocol exception, it is returned as the error.
func (e *Engine) ReceiveRawPDUResponse(dataOut []byte) (int, error) {
	if e.role != roleClient {
		return 0, ErrInvalidArgument
	}
	if e.msg.broadcast {
		return 0, nil
	}

	var pdu []byte
	var err error
	switch e.transport {
	case TransportRTU:
		pdu, err = e.receiveResponseRTU(e.msg.deadline, e.msg.unitID, e.msg.fc)
	case TransportTCP:
		pdu, err = e.receiveResponseTCP(e.msg.deadline, e.msg.transactionID)
	default:
		return 0, ErrInvalidArgument
	}
	if err != nil {
		return 0, err
	}

	switch FunctionCode(pdu[0]) {
	case e.msg.fc:
		return copy(dataOut, pdu[1:]), nil
	case e.msg.fc | exceptionBit:
		if len(pdu) != 2 {
			return 0, ErrInvalidResponse
		}
		ec := ExceptionCode(pdu[1])
		if !ec.valid() {
			return 0, ErrInvalidResponse
		}
		return 0, ec
	default:
		return 0, ErrInvalidResponse
	}
}
