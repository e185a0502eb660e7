// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Package frame defines the fixed-width on-disk record that both the
// current segment and the compacted segment codec read and write: one
// database page plus the metadata needed to place it in the log.
package frame

import (
	"encoding/binary"
	"fmt"
)

// PageSize is the fixed page payload size used throughout the log: 4096,
// matching the database file's page size rather than threading a
// configurable size through every record, since a log and the database
// file it backs must always agree on it.
const PageSize = 4096

// HeaderSize is the number of bytes in a FrameHeader once encoded: page_no
// (4) + frame_no (8) + size_after (4). That sum is already 8-byte aligned so
// no padding bytes are needed between the header and the payload.
const HeaderSize = 4 + 8 + 4

// Size is the total on-disk footprint of one frame: header plus one page.
const Size = HeaderSize + PageSize

// Header is the fixed metadata that precedes every page payload in the log.
// FrameNo is strictly monotonic per database across all segments. SizeAfter
// is non-zero only on the last frame of a commit, where it declares the
// logical database size (in pages) immediately after that commit.
type Header struct {
	PageNo    uint32
	FrameNo   uint64
	SizeAfter uint32
}

// IsCommit reports whether this frame closes out a commit.
func (h Header) IsCommit() bool { return h.SizeAfter != 0 }

// Frame is one page-sized log record: a header plus exactly PageSize bytes
// of page payload.
type Frame struct {
	Header
	Page []byte
}

// NewFrame allocates a Frame with a zeroed PageSize payload buffer.
func NewFrame() *Frame {
	return &Frame{Page: make([]byte, PageSize)}
}

// PageWrite is one page the host wants appended to the log: a page number
// and its dirty bytes, mirroring the host's linked list of (page_no,
// dirty_bytes) headers from a single commit batch.
type PageWrite struct {
	PageNo uint32
	Data   []byte
}

// WriteRecord is what a segment hands back for each page it appended: where
// it landed, so the caller (a write transaction) can fold it into its
// savepoint-local index delta.
type WriteRecord struct {
	PageNo  uint32
	FrameNo uint64
	Offset  uint32
}

// EncodeHeader writes h into buf, which must be at least HeaderSize bytes.
func EncodeHeader(buf []byte, h Header) {
	_ = buf[HeaderSize-1]
	binary.LittleEndian.PutUint32(buf[0:4], h.PageNo)
	binary.LittleEndian.PutUint64(buf[4:12], h.FrameNo)
	binary.LittleEndian.PutUint32(buf[12:16], h.SizeAfter)
}

// DecodeHeader reads a Header from buf, which must be at least HeaderSize
// bytes.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("frame: short header: got %d want %d", len(buf), HeaderSize)
	}
	return Header{
		PageNo:    binary.LittleEndian.Uint32(buf[0:4]),
		FrameNo:   binary.LittleEndian.Uint64(buf[4:12]),
		SizeAfter: binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// Encode writes the whole frame (header + page) into buf, which must be at
// least Size bytes.
func Encode(buf []byte, f *Frame) error {
	if len(buf) < Size {
		return fmt.Errorf("frame: short buffer: got %d want %d", len(buf), Size)
	}
	if len(f.Page) != PageSize {
		return fmt.Errorf("frame: page is %d bytes, want %d", len(f.Page), PageSize)
	}
	EncodeHeader(buf[:HeaderSize], f.Header)
	copy(buf[HeaderSize:Size], f.Page)
	return nil
}

// Decode reads a whole frame (header + page) out of buf into f, reusing
// f.Page's backing array when it is already PageSize long.
func Decode(buf []byte, f *Frame) error {
	if len(buf) < Size {
		return fmt.Errorf("frame: short buffer: got %d want %d", len(buf), Size)
	}
	h, err := DecodeHeader(buf[:HeaderSize])
	if err != nil {
		return err
	}
	f.Header = h
	if cap(f.Page) < PageSize {
		f.Page = make([]byte, PageSize)
	}
	f.Page = f.Page[:PageSize]
	copy(f.Page, buf[HeaderSize:Size])
	return nil
}
