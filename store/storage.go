// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

// Storage persists a Model across process restarts.
type Storage interface {
	// Load returns a Model to serve, reading any prior state.
	Load() (*Model, error)
	// Save writes the full current state of m.
	Save(m *Model) error
	// OnWrite is called after a write to table at [address,
	// address+quantity) has already been applied to the Model Load
	// returned, so a Storage can persist just the delta.
	OnWrite(table TableType, address, quantity uint16)
	// Close releases any resources Load acquired.
	Close() error
}
