// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ffutop/nanomodbus-go/modbus"
)

func TestInstrument_CountsRequestsAndRegisters(t *testing.T) {
	RequestsTotal.Reset()
	RegistersTouched.Reset()

	cb := modbus.Callbacks{
		ReadHoldingRegisters: func(address, quantity uint16, out []uint16) error {
			return nil
		},
	}
	wrapped := Instrument("test-instance", cb)

	out := make([]uint16, 5)
	if err := wrapped.ReadHoldingRegisters(0, 5, out); err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}

	if got := testutil.ToFloat64(RequestsTotal.WithLabelValues("test-instance", "read_holding_registers", "ok")); got != 1 {
		t.Errorf("RequestsTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(RegistersTouched.WithLabelValues("test-instance", "read_holding_registers")); got != 5 {
		t.Errorf("RegistersTouched = %v, want 5", got)
	}
}

func TestInstrument_ErrorOutcomeSkipsRegisterCount(t *testing.T) {
	RequestsTotal.Reset()
	RegistersTouched.Reset()

	wantErr := errors.New("boom")
	cb := modbus.Callbacks{
		ReadCoils: func(address, quantity uint16, out *modbus.Bitfield) error {
			return wantErr
		},
	}
	wrapped := Instrument("test-instance", cb)

	var bits modbus.Bitfield
	if err := wrapped.ReadCoils(0, 10, &bits); err != wantErr {
		t.Fatalf("ReadCoils: got %v, want %v", err, wantErr)
	}
	if got := testutil.ToFloat64(RequestsTotal.WithLabelValues("test-instance", "read_coils", "error")); got != 1 {
		t.Errorf("RequestsTotal(error) = %v, want 1", got)
	}
	if got := testutil.ToFloat64(RegistersTouched.WithLabelValues("test-instance", "read_coils")); got != 0 {
		t.Errorf("RegistersTouched on error = %v, want 0", got)
	}
}

func TestInstrument_ExceptionOutcomeDistinctFromError(t *testing.T) {
	RequestsTotal.Reset()

	cb := modbus.Callbacks{
		ReadHoldingRegisters: func(address, quantity uint16, out []uint16) error {
			return modbus.ExceptionIllegalDataAddress
		},
	}
	wrapped := Instrument("test-instance", cb)

	out := make([]uint16, 1)
	if err := wrapped.ReadHoldingRegisters(0, 1, out); err != modbus.ExceptionIllegalDataAddress {
		t.Fatalf("ReadHoldingRegisters: got %v, want ExceptionIllegalDataAddress", err)
	}
	if got := testutil.ToFloat64(RequestsTotal.WithLabelValues("test-instance", "read_holding_registers", "exception")); got != 1 {
		t.Errorf("RequestsTotal(exception) = %v, want 1", got)
	}
	if got := testutil.ToFloat64(RequestsTotal.WithLabelValues("test-instance", "read_holding_registers", "error")); got != 0 {
		t.Errorf("RequestsTotal(error) = %v, want 0", got)
	}
}

func TestInstrument_NilCallbackStaysNil(t *testing.T) {
	wrapped := Instrument("test-instance", modbus.Callbacks{})
	if wrapped.ReadCoils != nil {
		t.Error("ReadCoils should stay nil when the wrapped callback is nil")
	}
	if wrapped.WriteSingleRegister != nil {
		t.Error("WriteSingleRegister should stay nil when the wrapped callback is nil")
	}
}

func TestInstrument_RecordsDispatchDuration(t *testing.T) {
	DispatchDuration.Reset()

	cb := modbus.Callbacks{
		WriteSingleRegister: func(address, value uint16) error {
			return nil
		},
	}
	wrapped := Instrument("test-instance", cb)
	if err := wrapped.WriteSingleRegister(0, 1); err != nil {
		t.Fatalf("WriteSingleRegister: %v", err)
	}

	if got := testutil.CollectAndCount(DispatchDuration); got == 0 {
		t.Error("expected DispatchDuration to have an observation")
	}
}

func TestObservePoll_ClassifiesOutcomes(t *testing.T) {
	PollsTotal.Reset()

	ObservePoll("test-instance", nil)
	ObservePoll("test-instance", modbus.ErrTimeout)
	ObservePoll("test-instance", errors.New("boom"))

	if got := testutil.ToFloat64(PollsTotal.WithLabelValues("test-instance", "ok")); got != 1 {
		t.Errorf("PollsTotal(ok) = %v, want 1", got)
	}
	if got := testutil.ToFloat64(PollsTotal.WithLabelValues("test-instance", "timeout")); got != 1 {
		t.Errorf("PollsTotal(timeout) = %v, want 1", got)
	}
	if got := testutil.ToFloat64(PollsTotal.WithLabelValues("test-instance", "error")); got != 1 {
		t.Errorf("PollsTotal(error) = %v, want 1", got)
	}
}
