// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

// MemoryStorage is a non-persistent Storage: every Load starts from a
// fresh, empty Model.
type MemoryStorage struct{}

// NewMemoryStorage creates a MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (ms *MemoryStorage) Load() (*Model, error) { return NewModel(), nil }

func (ms *MemoryStorage) Save(m *Model) error { return nil }

func (ms *MemoryStorage) OnWrite(table TableType, address, quantity uint16) {}

func (ms *MemoryStorage) Close() error { return nil }
