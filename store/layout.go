// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import "encoding/binary"

// On-disk layout shared by FileStorage and MmapStorage: four
// contiguous regions, one per data table.
const (
	sizeCoils    = MaxAddress + 1
	sizeDiscrete = MaxAddress + 1
	sizeHolding  = (MaxAddress + 1) * 2
	sizeInput    = (MaxAddress + 1) * 2
	totalSize    = sizeCoils + sizeDiscrete + sizeHolding + sizeInput

	offsetCoils    = 0
	offsetDiscrete = offsetCoils + sizeCoils
	offsetHolding  = offsetDiscrete + sizeDiscrete
	offsetInput    = offsetHolding + sizeHolding
)

// encodeModel serializes m into buf, which must be totalSize bytes.
// Register values use little-endian encoding; this is an internal
// on-disk format only and need not match the MODBUS wire encoding.
func encodeModel(m *Model, buf []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	copy(buf[offsetCoils:offsetDiscrete], m.Coils)
	copy(buf[offsetDiscrete:offsetHolding], m.DiscreteInputs)
	for i, v := range m.HoldingRegisters {
		binary.LittleEndian.PutUint16(buf[offsetHolding+i*2:], v)
	}
	for i, v := range m.InputRegisters {
		binary.LittleEndian.PutUint16(buf[offsetInput+i*2:], v)
	}
}

// decodeModel populates a freshly-allocated Model from buf, which
// must be totalSize bytes.
func decodeModel(buf []byte) *Model {
	m := NewModel()
	copy(m.Coils, buf[offsetCoils:offsetDiscrete])
	copy(m.DiscreteInputs, buf[offsetDiscrete:offsetHolding])
	for i := range m.HoldingRegisters {
		m.HoldingRegisters[i] = binary.LittleEndian.Uint16(buf[offsetHolding+i*2:])
	}
	for i := range m.InputRegisters {
		m.InputRegisters[i] = binary.LittleEndian.Uint16(buf[offsetInput+i*2:])
	}
	return m
}
