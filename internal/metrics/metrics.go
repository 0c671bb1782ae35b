// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package metrics exposes Prometheus counters for the standalone
// server and gateway binaries, and a helper that wraps a
// modbus.Callbacks so every request it serves is counted without
// modbus itself knowing metrics exist.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ffutop/nanomodbus-go/modbus"
)

var (
	// RequestsTotal counts every request dispatched, by instance,
	// handler and outcome.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nanomodbus_requests_total",
		Help: "Requests dispatched, by instance, handler and outcome.",
	}, []string{"instance", "handler", "outcome"})

	// RegistersTouched counts coils/registers read or written, by
	// instance and handler.
	RegistersTouched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nanomodbus_registers_touched_total",
		Help: "Coils/registers read or written, by instance and handler.",
	}, []string{"instance", "handler"})

	// DispatchDuration times how long a Callbacks handler took to run,
	// by instance and handler.
	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nanomodbus_dispatch_duration_seconds",
		Help:    "Time a Callbacks handler took to run, by instance and handler.",
		Buckets: prometheus.DefBuckets,
	}, []string{"instance", "handler"})

	// PollsTotal counts every Engine.Poll call, by instance and
	// outcome (ok, timeout, error).
	PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nanomodbus_polls_total",
		Help: "Engine.Poll calls, by instance and outcome.",
	}, []string{"instance", "outcome"})
)

const (
	outcomeOK        = "ok"
	outcomeError     = "error"
	outcomeException = "exception"
	outcomeTimeout   = "timeout"
)

// ObservePoll records the outcome of one Engine.Poll call: a bare
// modbus.ErrTimeout counts as "timeout" rather than "error", since it
// is the server simply finding nothing to do before its read deadline.
func ObservePoll(instance string, err error) {
	switch {
	case err == nil:
		PollsTotal.WithLabelValues(instance, outcomeOK).Inc()
	case err == modbus.ErrTimeout:
		PollsTotal.WithLabelValues(instance, outcomeTimeout).Inc()
	default:
		PollsTotal.WithLabelValues(instance, outcomeError).Inc()
	}
}

// Instrument wraps cb so every call increments RequestsTotal and
// observes DispatchDuration under the given instance label, and a call
// that returns nil also adds its quantity to RegistersTouched. A nil field in cb
// stays nil, preserving modbus.Callbacks' documented "nil means
// illegal function" behavior instead of panicking on a nil call.
func Instrument(instance string, cb modbus.Callbacks) modbus.Callbacks {
	out := modbus.Callbacks{}
	if cb.ReadCoils != nil {
		out.ReadCoils = func(address, quantity uint16, coilsOut *modbus.Bitfield) error {
			start := time.Now()
			err := cb.ReadCoils(address, quantity, coilsOut)
			observe(instance, "read_coils", quantity, start, err)
			return err
		}
	}
	if cb.ReadDiscreteInputs != nil {
		out.ReadDiscreteInputs = func(address, quantity uint16, inputsOut *modbus.Bitfield) error {
			start := time.Now()
			err := cb.ReadDiscreteInputs(address, quantity, inputsOut)
			observe(instance, "read_discrete_inputs", quantity, start, err)
			return err
		}
	}
	if cb.ReadHoldingRegisters != nil {
		out.ReadHoldingRegisters = func(address, quantity uint16, registersOut []uint16) error {
			start := time.Now()
			err := cb.ReadHoldingRegisters(address, quantity, registersOut)
			observe(instance, "read_holding_registers", quantity, start, err)
			return err
		}
	}
	if cb.ReadInputRegisters != nil {
		out.ReadInputRegisters = func(address, quantity uint16, registersOut []uint16) error {
			start := time.Now()
			err := cb.ReadInputRegisters(address, quantity, registersOut)
			observe(instance, "read_input_registers", quantity, start, err)
			return err
		}
	}
	if cb.WriteSingleCoil != nil {
		out.WriteSingleCoil = func(address uint16, value bool) error {
			start := time.Now()
			err := cb.WriteSingleCoil(address, value)
			observe(instance, "write_single_coil", 1, start, err)
			return err
		}
	}
	if cb.WriteSingleRegister != nil {
		out.WriteSingleRegister = func(address, value uint16) error {
			start := time.Now()
			err := cb.WriteSingleRegister(address, value)
			observe(instance, "write_single_register", 1, start, err)
			return err
		}
	}
	if cb.WriteMultipleCoils != nil {
		out.WriteMultipleCoils = func(address, quantity uint16, coils *modbus.Bitfield) error {
			start := time.Now()
			err := cb.WriteMultipleCoils(address, quantity, coils)
			observe(instance, "write_multiple_coils", quantity, start, err)
			return err
		}
	}
	if cb.WriteMultipleRegisters != nil {
		out.WriteMultipleRegisters = func(address, quantity uint16, registers []uint16) error {
			start := time.Now()
			err := cb.WriteMultipleRegisters(address, quantity, registers)
			observe(instance, "write_multiple_registers", quantity, start, err)
			return err
		}
	}
	return out
}

// observe classifies err into an outcome label: nil is "ok", an
// ExceptionCode (a protocol exception the handler chose to signal,
// e.g. illegal data address) is "exception", anything else is "error".
func observe(instance, handler string, quantity uint16, start time.Time, err error) {
	outcome := outcomeOK
	switch {
	case err == nil:
	default:
		if _, ok := modbus.IsException(err); ok {
			outcome = outcomeException
		} else {
			outcome = outcomeError
		}
	}
	RequestsTotal.WithLabelValues(instance, handler, outcome).Inc()
	DispatchDuration.WithLabelValues(instance, handler).Observe(time.Since(start).Seconds())
	if err == nil {
		RegistersTouched.WithLabelValues(instance, handler).Add(float64(quantity))
	}
}
