// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"testing"

	"github.com/ffutop/nanomodbus-go/modbus"
)

func TestModel_RegisterReadWriteRoundTrip(t *testing.T) {
	m := NewModel()
	if err := m.WriteSingleRegister(10, 1234); err != nil {
		t.Fatalf("WriteSingleRegister: %v", err)
	}
	out := make([]uint16, 1)
	if err := m.ReadHoldingRegisters(10, 1, out); err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	if out[0] != 1234 {
		t.Fatalf("got %d, want 1234", out[0])
	}
}

func TestModel_WriteMultipleRegisters(t *testing.T) {
	m := NewModel()
	if err := m.WriteMultipleRegisters(100, 3, []uint16{1, 2, 3}); err != nil {
		t.Fatalf("WriteMultipleRegisters: %v", err)
	}
	out := make([]uint16, 3)
	if err := m.ReadHoldingRegisters(100, 3, out); err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	for i, v := range []uint16{1, 2, 3} {
		if out[i] != v {
			t.Errorf("out[%d] = %d, want %d", i, out[i], v)
		}
	}
}

func TestModel_CoilReadWriteRoundTrip(t *testing.T) {
	m := NewModel()
	if err := m.WriteSingleCoil(5, true); err != nil {
		t.Fatalf("WriteSingleCoil: %v", err)
	}
	var bits modbus.Bitfield
	if err := m.ReadCoils(0, 8, &bits); err != nil {
		t.Fatalf("ReadCoils: %v", err)
	}
	if !bits.Read(5) {
		t.Fatal("coil 5 not set")
	}
	for i := uint16(0); i < 8; i++ {
		if i != 5 && bits.Read(i) {
			t.Errorf("coil %d unexpectedly set", i)
		}
	}
}

func TestModel_WriteMultipleCoils(t *testing.T) {
	m := NewModel()
	var in modbus.Bitfield
	in.Write(0, true)
	in.Write(2, true)
	if err := m.WriteMultipleCoils(0, 4, &in); err != nil {
		t.Fatalf("WriteMultipleCoils: %v", err)
	}
	var out modbus.Bitfield
	if err := m.ReadCoils(0, 4, &out); err != nil {
		t.Fatalf("ReadCoils: %v", err)
	}
	for i := uint16(0); i < 4; i++ {
		want := i == 0 || i == 2
		if out.Read(i) != want {
			t.Errorf("coil %d = %v, want %v", i, out.Read(i), want)
		}
	}
}

func TestModel_RangeValidation(t *testing.T) {
	m := NewModel()
	out := make([]uint16, 1)
	if err := m.ReadHoldingRegisters(0, 0, out); err == nil {
		t.Fatal("expected error for quantity 0")
	}
	if err := m.ReadHoldingRegisters(MaxAddress, 2, out); err == nil {
		t.Fatal("expected error for range exceeding MaxAddress")
	}
}

func TestModel_OnWriteNotifiesAfterUnlock(t *testing.T) {
	m := NewModel()
	var gotTable TableType
	var gotAddr, gotQty uint16
	m.SetOnWrite(func(table TableType, address, quantity uint16) {
		gotTable, gotAddr, gotQty = table, address, quantity
		// Model must not still hold its lock: a re-entrant read must
		// not deadlock.
		out := make([]uint16, 1)
		if err := m.ReadHoldingRegisters(address, 1, out); err != nil {
			t.Errorf("re-entrant read from OnWrite: %v", err)
		}
	})
	if err := m.WriteSingleRegister(7, 55); err != nil {
		t.Fatalf("WriteSingleRegister: %v", err)
	}
	if gotTable != TableHoldingRegisters || gotAddr != 7 || gotQty != 1 {
		t.Fatalf("OnWrite saw table=%v address=%d quantity=%d, want holding/7/1", gotTable, gotAddr, gotQty)
	}
}

func TestModel_Callbacks(t *testing.T) {
	m := NewModel()
	cb := m.Callbacks()
	if err := cb.WriteSingleRegister(1, 42); err != nil {
		t.Fatalf("Callbacks.WriteSingleRegister: %v", err)
	}
	out := make([]uint16, 1)
	if err := cb.ReadHoldingRegisters(1, 1, out); err != nil {
		t.Fatalf("Callbacks.ReadHoldingRegisters: %v", err)
	}
	if out[0] != 42 {
		t.Fatalf("got %d, want 42", out[0])
	}
}
