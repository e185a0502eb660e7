// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package ioutil

import "github.com/dreamsxin/pagewal/frame"

// FrameBuf models the buffer-ownership handoff the compacted segment codec
// uses for frame reads: the caller hands a raw, frame.Size-length byte slice
// in, the read fills it and hands it back alongside an error, instead of the
// codec retaining ownership of (or allocating) the destination buffer
// itself.
//
// A synchronous implementation is all this package provides, but the
// ownership-transfer shape is what lets a backend route the actual read
// through a worker pool or any other asynchronous I/O mechanism without
// changing the call signature: nothing aliases the buffer after Take()
// returns, so handing it to another goroutine is always safe.
type FrameBuf struct {
	raw []byte
}

// NewFrameBuf allocates a FrameBuf sized to hold one encoded frame
// (frame.Size bytes), reusing raw's backing array if it's already large
// enough.
func NewFrameBuf(raw []byte) *FrameBuf {
	if cap(raw) < frame.Size {
		raw = make([]byte, frame.Size)
	}
	return &FrameBuf{raw: raw[:frame.Size]}
}

// Bytes exposes the raw backing slice for the read call.
func (b *FrameBuf) Bytes() []byte { return b.raw }

// Take returns ownership of the underlying byte slice to the caller. It
// must be called exactly once, after the I/O operation using Bytes() has
// completed.
func (b *FrameBuf) Take() []byte {
	raw := b.raw
	b.raw = nil
	return raw
}
