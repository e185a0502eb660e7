// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package ioutil

import (
	"fmt"
	"os"
	"sync"
)

// MmapFile backs the current segment's appendable tail: writes go through
// ordinary positional I/O, while reads are served from a read-only shared
// memory map that is grown (remapped) when a read reaches past its current
// extent. The map is a read cache, not the write path itself; it does not
// distinguish committed from uncommitted frames, and since the mapping is
// shared, bytes written through WriteAt are visible through it once the
// write returns, whether or not they have been synced.
type MmapFile struct {
	f *os.File

	mu      sync.RWMutex
	mapping []byte // nil until something has been mapped
	mapSize int64
}

// OpenMmap opens (or creates) path for read/write and wraps it for
// mmap-backed reads.
func OpenMmap(path string, perm os.FileMode) (*MmapFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, perm)
	if err != nil {
		return nil, fmt.Errorf("ioutil: open %s: %w", path, err)
	}
	return &MmapFile{f: f}, nil
}

func (m *MmapFile) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mapping != nil {
		if err := munmap(m.mapping); err != nil {
			m.f.Close()
			return err
		}
		m.mapping = nil
	}
	return m.f.Close()
}

func (m *MmapFile) Sync() error { return m.f.Sync() }

func (m *MmapFile) Truncate(size int64) error { return m.f.Truncate(size) }

func (m *MmapFile) Size() (int64, error) {
	fi, err := m.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// WriteAt always goes straight to the file; the mapping is remapped lazily
// on the next read that needs to see past its current extent.
func (m *MmapFile) WriteAt(p []byte, off int64) (int, error) {
	return m.f.WriteAt(p, off)
}

// ReadAt serves from the memory map when the requested range is already
// covered, remapping to pick up growth otherwise. Falls back to a plain
// positional read if mmap isn't available on this platform.
func (m *MmapFile) ReadAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))

	m.mu.RLock()
	covered := m.mapping != nil && end <= m.mapSize
	if covered {
		n := copy(p, m.mapping[off:end])
		m.mu.RUnlock()
		return n, nil
	}
	m.mu.RUnlock()

	if err := m.ensureMapped(end); err != nil {
		// mmap isn't available (or failed) on this platform/file: fall back
		// to a regular positional read rather than failing the caller.
		return m.f.ReadAt(p, off)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.mapping == nil || end > m.mapSize {
		return m.f.ReadAt(p, off)
	}
	return copy(p, m.mapping[off:end]), nil
}

func (m *MmapFile) ensureMapped(minSize int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mapping != nil && minSize <= m.mapSize {
		return nil
	}

	fi, err := m.f.Stat()
	if err != nil {
		return err
	}
	size := fi.Size()
	if size < minSize {
		size = minSize
	}
	if size == 0 {
		return fmt.Errorf("ioutil: cannot map empty file")
	}

	if m.mapping != nil {
		if err := munmap(m.mapping); err != nil {
			return err
		}
		m.mapping = nil
	}

	mapping, err := mmap(m.f, size)
	if err != nil {
		return err
	}
	m.mapping = mapping
	m.mapSize = size
	return nil
}
