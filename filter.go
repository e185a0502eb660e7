// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package pagewal

// FrameFilter is the pluggable at-rest transform hook: a pair of transforms
// applied around ReadFrame/InsertFrames for every page number other than 1.
// The core never understands what the filter does — this is how an
// optional encryption layer plugs in without this package knowing about
// ciphers.
//
// Page 1 is never passed through a filter: SharedWal skips the call
// entirely for page_no == 1, so frame 1 is always delivered/stored
// verbatim.
type FrameFilter interface {
	// Encode transforms buf (exactly frame.PageSize bytes) in place before
	// it is written to the log.
	Encode(pageNo uint32, buf []byte) error
	// Decode reverses Encode on a page read back out of the log.
	Decode(pageNo uint32, buf []byte) error
}

// noopFilter is the default FrameFilter: no transform at all.
type noopFilter struct{}

func (noopFilter) Encode(uint32, []byte) error { return nil }
func (noopFilter) Decode(uint32, []byte) error { return nil }
