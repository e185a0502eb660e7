// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package segment

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/google/uuid"

	"github.com/dreamsxin/pagewal/frame"
	"github.com/dreamsxin/pagewal/ioutil"
	"github.com/dreamsxin/pagewal/werr"
)

// Magic is the compacted segment file's magic number: "PGWAL001" spelled
// out in ASCII as a little-endian u64.
const Magic uint64 = 0x3130304C41574750 // "PGWAL001" read little-endian

// Version is the only compacted segment format version this codec writes
// or accepts.
const Version uint16 = 1

// HeaderSize is the encoded size of Header: the field widths below sum to
// 52 bytes (see DESIGN.md for why that supersedes an earlier round-number
// estimate).
const HeaderSize = 8 + 2 + 4 + 16 + 8 + 8 + 4 + 2

// FooterSize is the encoded size of the trailing CRC.
const FooterSize = 4

// Header is the fixed 52-byte header prefixing every compacted segment
// file, and also the provisional header a still-open current segment's
// backing file is created with (frame_count/end_frame_no/size_after are
// updated in place when the segment is sealed).
type Header struct {
	Magic        uint64
	Version      uint16
	FrameCount   uint32
	SegmentID    uuid.UUID
	StartFrameNo uint64
	EndFrameNo   uint64
	SizeAfter    uint32
	PageSize     uint16
}

// EncodeHeader writes h into buf, which must be at least HeaderSize bytes.
func EncodeHeader(buf []byte, h Header) {
	_ = buf[HeaderSize-1]
	binary.LittleEndian.PutUint64(buf[0:8], h.Magic)
	binary.LittleEndian.PutUint16(buf[8:10], h.Version)
	binary.LittleEndian.PutUint32(buf[10:14], h.FrameCount)
	copy(buf[14:30], h.SegmentID[:])
	binary.LittleEndian.PutUint64(buf[30:38], h.StartFrameNo)
	binary.LittleEndian.PutUint64(buf[38:46], h.EndFrameNo)
	binary.LittleEndian.PutUint32(buf[46:50], h.SizeAfter)
	binary.LittleEndian.PutUint16(buf[50:52], h.PageSize)
}

// DecodeHeader reads a Header out of buf, which must be at least
// HeaderSize bytes. It does not validate the header; call (Header).Check.
func DecodeHeader(buf []byte) Header {
	var h Header
	h.Magic = binary.LittleEndian.Uint64(buf[0:8])
	h.Version = binary.LittleEndian.Uint16(buf[8:10])
	h.FrameCount = binary.LittleEndian.Uint32(buf[10:14])
	copy(h.SegmentID[:], buf[14:30])
	h.StartFrameNo = binary.LittleEndian.Uint64(buf[30:38])
	h.EndFrameNo = binary.LittleEndian.Uint64(buf[38:46])
	h.SizeAfter = binary.LittleEndian.Uint32(buf[46:50])
	h.PageSize = binary.LittleEndian.Uint16(buf[50:52])
	return h
}

// Check validates a decoded header, returning the distinct error kinds
// callers can match with errors.Is.
func (h Header) Check() error {
	if h.Magic != Magic {
		return werr.ErrInvalidHeaderMagic
	}
	if h.Version != Version {
		return werr.ErrInvalidVersion
	}
	if h.PageSize != frame.PageSize {
		return werr.ErrInvalidPageSize
	}
	return nil
}

// frameOffset returns the byte offset of the slot-th frame record.
func frameOffset(slot uint32) int64 {
	return int64(HeaderSize) + int64(slot)*int64(frame.Size)
}

// Compacted is a read handle on an on-disk compacted segment file: header
// already read and validated, body readable by slot index.
type Compacted struct {
	Header Header
	file   ioutil.File
}

// Open reads and validates the header of an already-written compacted
// segment file.
func Open(file ioutil.File) (*Compacted, error) {
	buf := make([]byte, HeaderSize)
	if _, err := file.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	h := DecodeHeader(buf)
	if err := h.Check(); err != nil {
		return nil, err
	}
	return &Compacted{Header: h, file: file}, nil
}

// ReadFrame reads the slot-th frame using the buffer-ownership handoff
// pattern: buf is filled in place and handed back to the caller via
// FrameBuf.Take, rather than this method allocating or retaining it. See
// ioutil.FrameBuf and DESIGN.md's note on modeling asynchronous I/O.
func (c *Compacted) ReadFrame(buf *ioutil.FrameBuf, slot uint32) ([]byte, error) {
	raw := buf.Bytes()
	if _, err := c.file.ReadAt(raw, frameOffset(slot)); err != nil {
		return nil, err
	}
	return buf.Take(), nil
}

// ReadFrameAt decodes the slot-th frame directly into f.
func (c *Compacted) ReadFrameAt(slot uint32, f *frame.Frame) error {
	raw := make([]byte, frame.Size)
	buf := ioutil.NewFrameBuf(raw)
	out, err := c.ReadFrame(buf, slot)
	if err != nil {
		return err
	}
	return frame.Decode(out, f)
}

// VerifyChecksum recomputes the CRC-32 over the header and body and
// compares it to the trailing footer.
func (c *Compacted) VerifyChecksum() error {
	bodySize := int64(c.Header.FrameCount) * int64(frame.Size)
	total := int64(HeaderSize) + bodySize
	buf := make([]byte, total)
	if _, err := c.file.ReadAt(buf, 0); err != nil {
		return err
	}
	want := crc32.ChecksumIEEE(buf)

	footer := make([]byte, FooterSize)
	if _, err := c.file.ReadAt(footer, total); err != nil {
		return err
	}
	got := binary.LittleEndian.Uint32(footer)
	if got != want {
		return werr.ErrChecksumMismatch
	}
	return nil
}

// WriteHeader writes a provisional header (frame_count/end_frame_no/
// size_after may be updated later in place) to the start of file.
func WriteHeader(file ioutil.File, h Header) error {
	buf := make([]byte, HeaderSize)
	EncodeHeader(buf, h)
	_, err := file.WriteAt(buf, 0)
	return err
}

// Finalize rewrites the header's frame_count/end_frame_no/size_after fields
// in place and appends the footer CRC over the whole header+body, turning
// an in-progress segment file into a valid compacted segment.
func Finalize(file ioutil.File, h Header) error {
	if err := WriteHeader(file, h); err != nil {
		return err
	}
	bodySize := int64(h.FrameCount) * int64(frame.Size)
	total := int64(HeaderSize) + bodySize
	buf := make([]byte, total)
	if _, err := file.ReadAt(buf, 0); err != nil {
		return err
	}
	sum := crc32.ChecksumIEEE(buf)
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer, sum)
	if _, err := file.WriteAt(footer, total); err != nil {
		return err
	}
	return file.Sync()
}
