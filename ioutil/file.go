// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Package ioutil provides the small file abstractions the WAL needs: plain
// positional I/O for the base database file and compacted segments, and a
// memory-mapped variant for the current segment's appendable tail.
package ioutil

import (
	"io"
	"os"
)

// File is the minimal positional file interface segments and the base
// database file are read and written through.
type File interface {
	io.Closer
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Sync() error
	Truncate(size int64) error
	Size() (int64, error)
}

// OSFile adapts *os.File to File with no caching of its own, used for the
// base database file and for sealed segment files reopened on recovery. A
// segment sealed during the running process keeps the mmap-backed file it
// was written through.
type OSFile struct {
	f *os.File
}

// OpenFile opens or creates path for positional read/write.
func OpenFile(path string, perm os.FileMode) (*OSFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, perm)
	if err != nil {
		return nil, err
	}
	return &OSFile{f: f}, nil
}

func (o *OSFile) ReadAt(p []byte, off int64) (int, error)  { return o.f.ReadAt(p, off) }
func (o *OSFile) WriteAt(p []byte, off int64) (int, error) { return o.f.WriteAt(p, off) }
func (o *OSFile) Sync() error                              { return o.f.Sync() }
func (o *OSFile) Truncate(size int64) error                { return o.f.Truncate(size) }
func (o *OSFile) Close() error                              { return o.f.Close() }

func (o *OSFile) Size() (int64, error) {
	fi, err := o.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
