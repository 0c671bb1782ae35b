// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package store provides reference application-data-model backends
// for modbus.Server: an in-memory register/coil table plus several
// persistence strategies (none, plain file, memory-mapped file, SQL).
package store

import (
	"fmt"
	"sync"

	"github.com/ffutop/nanomodbus-go/modbus"
)

// MaxAddress is the highest valid 0-based register/coil address.
const MaxAddress = 65535

// TableType identifies one of the four MODBUS data tables, passed to
// an OnWrite hook so a Storage can persist only what changed.
type TableType int

const (
	TableCoils TableType = iota
	TableDiscreteInputs
	TableHoldingRegisters
	TableInputRegisters
)

// Model holds the full 16-bit address space for all four MODBUS data
// tables in memory, safe for concurrent use. It produces a
// modbus.Callbacks value via Callbacks, so it can sit directly behind
// modbus.NewServer.
type Model struct {
	mu sync.RWMutex

	Coils            []byte
	DiscreteInputs   []byte
	HoldingRegisters []uint16
	InputRegisters   []uint16

	onWrite func(table TableType, address, quantity uint16)
}

// NewModel creates a Model initialized to zero.
func NewModel() *Model {
	return &Model{
		Coils:            make([]byte, MaxAddress+1),
		DiscreteInputs:   make([]byte, MaxAddress+1),
		HoldingRegisters: make([]uint16, MaxAddress+1),
		InputRegisters:   make([]uint16, MaxAddress+1),
	}
}

// SetOnWrite installs a hook invoked after every successful write,
// after the Model's lock has been released. Used by Storage backends
// to persist real-time.
func (m *Model) SetOnWrite(fn func(table TableType, address, quantity uint16)) {
	m.onWrite = fn
}

func validateRange(address, quantity uint16) error {
	if quantity == 0 {
		return fmt.Errorf("store: quantity must be greater than 0")
	}
	if int(address)+int(quantity) > MaxAddress+1 {
		return fmt.Errorf("store: address range out of bounds")
	}
	return nil
}

func (m *Model) notify(table TableType, address, quantity uint16) {
	if m.onWrite != nil {
		m.onWrite(table, address, quantity)
	}
}

// ReadCoils implements the modbus.Callbacks.ReadCoils signature.
func (m *Model) ReadCoils(address, quantity uint16, out *modbus.Bitfield) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := validateRange(address, quantity); err != nil {
		return err
	}
	out.Reset()
	for i := uint16(0); i < quantity; i++ {
		if m.Coils[address+i] != 0 {
			out.Write(i, true)
		}
	}
	return nil
}

// ReadDiscreteInputs implements the modbus.Callbacks.ReadDiscreteInputs signature.
func (m *Model) ReadDiscreteInputs(address, quantity uint16, out *modbus.Bitfield) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := validateRange(address, quantity); err != nil {
		return err
	}
	out.Reset()
	for i := uint16(0); i < quantity; i++ {
		if m.DiscreteInputs[address+i] != 0 {
			out.Write(i, true)
		}
	}
	return nil
}

// ReadHoldingRegisters implements the modbus.Callbacks.ReadHoldingRegisters signature.
func (m *Model) ReadHoldingRegisters(address, quantity uint16, out []uint16) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := validateRange(address, quantity); err != nil {
		return err
	}
	copy(out[:quantity], m.HoldingRegisters[address:int(address)+int(quantity)])
	return nil
}

// ReadInputRegisters implements the modbus.Callbacks.ReadInputRegisters signature.
func (m *Model) ReadInputRegisters(address, quantity uint16, out []uint16) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := validateRange(address, quantity); err != nil {
		return err
	}
	copy(out[:quantity], m.InputRegisters[address:int(address)+int(quantity)])
	return nil
}

// WriteSingleCoil implements the modbus.Callbacks.WriteSingleCoil signature.
func (m *Model) WriteSingleCoil(address uint16, value bool) error {
	m.mu.Lock()
	if value {
		m.Coils[address] = 1
	} else {
		m.Coils[address] = 0
	}
	m.mu.Unlock()
	m.notify(TableCoils, address, 1)
	return nil
}

// WriteSingleRegister implements the modbus.Callbacks.WriteSingleRegister signature.
func (m *Model) WriteSingleRegister(address, value uint16) error {
	m.mu.Lock()
	m.HoldingRegisters[address] = value
	m.mu.Unlock()
	m.notify(TableHoldingRegisters, address, 1)
	return nil
}

// WriteMultipleCoils implements the modbus.Callbacks.WriteMultipleCoils signature.
func (m *Model) WriteMultipleCoils(address, quantity uint16, coils *modbus.Bitfield) error {
	m.mu.Lock()
	if err := validateRange(address, quantity); err != nil {
		m.mu.Unlock()
		return err
	}
	for i := uint16(0); i < quantity; i++ {
		if coils.Read(i) {
			m.Coils[address+i] = 1
		} else {
			m.Coils[address+i] = 0
		}
	}
	m.mu.Unlock()
	m.notify(TableCoils, address, quantity)
	return nil
}

// WriteMultipleRegisters implements the modbus.Callbacks.WriteMultipleRegisters signature.
func (m *Model) WriteMultipleRegisters(address, quantity uint16, registers []uint16) error {
	m.mu.Lock()
	if err := validateRange(address, quantity); err != nil {
		m.mu.Unlock()
		return err
	}
	copy(m.HoldingRegisters[address:int(address)+int(quantity)], registers[:quantity])
	m.mu.Unlock()
	m.notify(TableHoldingRegisters, address, quantity)
	return nil
}

// Callbacks returns a modbus.Callbacks backed by this Model.
func (m *Model) Callbacks() modbus.Callbacks {
	return modbus.Callbacks{
		ReadCoils:              m.ReadCoils,
		ReadDiscreteInputs:     m.ReadDiscreteInputs,
		ReadHoldingRegisters:   m.ReadHoldingRegisters,
		ReadInputRegisters:     m.ReadInputRegisters,
		WriteSingleCoil:        m.WriteSingleCoil,
		WriteSingleRegister:    m.WriteSingleRegister,
		WriteMultipleCoils:     m.WriteMultipleCoils,
		WriteMultipleRegisters: m.WriteMultipleRegisters,
	}
}
