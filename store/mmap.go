// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/edsrzf/mmap-go"
)

// MmapStorage persists a Model through a memory-mapped file. The
// mapped bytes are not aliased directly onto the Model's register
// slices (Model.HoldingRegisters holds a regular []uint16, decoded from
// and encoded back into the mapping), trading a per-write encode/decode
// pass for portability across architectures with different endianness.
type MmapStorage struct {
	path  string
	file  *os.File
	data  mmap.MMap
	model *Model
}

// NewMmapStorage creates an MmapStorage backed by path.
func NewMmapStorage(path string) *MmapStorage {
	return &MmapStorage{path: path}
}

// Load opens (creating if needed), sizes and memory-maps the backing
// file.
func (ms *MmapStorage) Load() (*Model, error) {
	f, err := os.OpenFile(ms.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open mmap file %s: %w", ms.path, err)
	}
	ms.file = f

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != int64(totalSize) {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("store: resize mmap file %s: %w", ms.path, err)
		}
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: mmap %s: %w", ms.path, err)
	}
	ms.data = data

	m := decodeModel(data)
	ms.model = m
	return m, nil
}

// Save re-encodes m into the mapping and flushes it to disk.
func (ms *MmapStorage) Save(m *Model) error {
	return ms.sync(m)
}

// OnWrite re-encodes the Model returned by Load into the mapping and
// flushes it to disk.
func (ms *MmapStorage) OnWrite(table TableType, address, quantity uint16) {
	if ms.model == nil {
		return
	}
	if err := ms.sync(ms.model); err != nil {
		slog.Error("store: mmap flush failed", "path", ms.path, "error", err)
	}
}

func (ms *MmapStorage) sync(m *Model) error {
	if ms.data == nil {
		return fmt.Errorf("store: mmap data is nil")
	}
	encodeModel(m, ms.data)
	return ms.data.Flush()
}

// Close unmaps and closes the backing file.
func (ms *MmapStorage) Close() error {
	var err error
	if ms.data != nil {
		if e := ms.data.Unmap(); e != nil {
			err = e
		}
		ms.data = nil
	}
	if ms.file != nil {
		if e := ms.file.Close(); e != nil {
			err = e
		}
		ms.file = nil
	}
	return err
}
