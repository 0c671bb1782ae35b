// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

// FunctionCode identifies a MODBUS operation. The high bit is set in
// exception responses.
type FunctionCode byte

const (
	FuncCodeReadCoils              FunctionCode = 0x01
	FuncCodeReadDiscreteInputs     FunctionCode = 0x02
	FuncCodeReadHoldingRegisters   FunctionCode = 0x03
	FuncCodeReadInputRegisters     FunctionCode = 0x04
	FuncCodeWriteSingleCoil        FunctionCode = 0x05
	FuncCodeWriteSingleRegister    FunctionCode = 0x06
	FuncCodeWriteMultipleCoils     FunctionCode = 0x0F
	FuncCodeWriteMultipleRegisters FunctionCode = 0x10

	exceptionBit FunctionCode = 0x80
)

// maxPDUSize is the largest PDU the engine will ever build or accept:
// one function code byte plus at most 252 bytes of body.
const maxPDUSize = 253

// maxMessageSize is the 260-byte ceiling on a full ADU (MBAP + PDU on
// TCP; the largest of the two transports).
const maxMessageSize = 260

// Quantity bounds for read/write requests.
const (
	maxReadBits          = 2000
	maxReadRegisters     = 125
	maxWriteMultipleBits = 1968
	maxWriteRegisters    = 123
)

// coilOnValue/coilOffValue are the only two values MODBUS permits in
// the Write Single Coil request/response value field.
const (
	coilOnValue  uint16 = 0xFF00
	coilOffValue uint16 = 0x0000
)

// BroadcastAddress is the reserved RTU unit id meaning "every server
// on the bus"; a server never replies to it.
const BroadcastAddress uint8 = 0
