// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// SQLStorage persists a Model one changed register/coil at a time, as
// rows in a modbus_registers table, using a pure-Go SQLite driver.
type SQLStorage struct {
	dsn   string
	db    *sql.DB
	model *Model
}

// NewSQLStorage creates a SQLStorage backed by the SQLite database at
// dsn (a file path, or ":memory:").
func NewSQLStorage(dsn string) *SQLStorage {
	return &SQLStorage{dsn: dsn}
}

// Load opens the database, ensures the schema exists and reads all
// persisted registers into a fresh Model.
func (s *SQLStorage) Load() (*Model, error) {
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open db %s: %w", s.dsn, err)
	}
	s.db = db

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}

	m := NewModel()
	s.model = m

	rows, err := db.Query(`SELECT table_type, address, value FROM modbus_registers`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: query registers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t, addr, val int
		if err := rows.Scan(&t, &addr, &val); err != nil {
			continue
		}
		if addr < 0 || addr > MaxAddress {
			continue
		}
		switch TableType(t) {
		case TableCoils:
			m.Coils[addr] = byte(val)
		case TableDiscreteInputs:
			m.DiscreteInputs[addr] = byte(val)
		case TableHoldingRegisters:
			m.HoldingRegisters[addr] = uint16(val)
		case TableInputRegisters:
			m.InputRegisters[addr] = uint16(val)
		}
	}
	return m, rows.Err()
}

func (s *SQLStorage) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS modbus_registers (
			table_type INTEGER,
			address INTEGER,
			value INTEGER,
			PRIMARY KEY (table_type, address)
		)`)
	return err
}

// Save is a no-op: SQLStorage persists each write as it happens
// through OnWrite, so a bulk full-table save adds nothing.
func (s *SQLStorage) Save(m *Model) error { return nil }

// OnWrite upserts every register/coil touched by the write at
// [address, address+quantity).
func (s *SQLStorage) OnWrite(table TableType, address, quantity uint16) {
	if s.db == nil || s.model == nil {
		return
	}
	for i := uint16(0); i < quantity; i++ {
		addr := address + i
		var val int64
		switch table {
		case TableCoils:
			val = int64(s.model.Coils[addr])
		case TableDiscreteInputs:
			val = int64(s.model.DiscreteInputs[addr])
		case TableHoldingRegisters:
			val = int64(s.model.HoldingRegisters[addr])
		case TableInputRegisters:
			val = int64(s.model.InputRegisters[addr])
		}
		_, err := s.db.Exec(`
			INSERT INTO modbus_registers (table_type, address, value) VALUES (?, ?, ?)
			ON CONFLICT(table_type, address) DO UPDATE SET value = excluded.value`,
			int(table), int(addr), val)
		if err != nil {
			slog.Error("store: persist register failed", "table", table, "address", addr, "error", err)
		}
	}
}

// Close closes the database handle.
func (s *SQLStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
