// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// FileStorage persists a Model as a flat totalSize-byte image. The
// whole image is read into memory on Load and rewritten in full on
// every write, trading write amplification for a trivial, always-
// consistent on-disk layout.
type FileStorage struct {
	path  string
	file  *os.File
	buf   []byte
	model *Model
}

// NewFileStorage creates a FileStorage backed by path.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Load opens (creating if needed) and reads the backing file.
func (fs *FileStorage) Load() (*Model, error) {
	f, err := os.OpenFile(fs.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", fs.path, err)
	}
	fs.file = f

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != int64(totalSize) {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("store: resize %s: %w", fs.path, err)
		}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	buf, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: read %s: %w", fs.path, err)
	}
	fs.buf = buf

	m := decodeModel(buf)
	fs.model = m
	return m, nil
}

// Save re-encodes m and flushes it to disk.
func (fs *FileStorage) Save(m *Model) error {
	return fs.sync(m)
}

// OnWrite re-encodes the Model returned by Load and flushes it to
// disk, giving "real time" durability at the cost of a full rewrite
// per call.
func (fs *FileStorage) OnWrite(table TableType, address, quantity uint16) {
	if fs.model == nil {
		return
	}
	if err := fs.sync(fs.model); err != nil {
		slog.Error("store: file sync failed", "path", fs.path, "error", err)
	}
}

func (fs *FileStorage) sync(m *Model) error {
	if fs.file == nil {
		return nil
	}
	encodeModel(m, fs.buf)
	if _, err := fs.file.WriteAt(fs.buf, 0); err != nil {
		return fmt.Errorf("store: write %s: %w", fs.path, err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("store: sync %s: %w", fs.path, err)
	}
	return nil
}

// Close closes the backing file.
func (fs *FileStorage) Close() error {
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}
