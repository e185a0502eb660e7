// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package segment

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dreamsxin/pagewal/frame"
	"github.com/dreamsxin/pagewal/ioutil"
	"github.com/dreamsxin/pagewal/werr"
)

// readerCounter is satisfied by *CurrentSegment; factored out so a segment
// recovered from disk after a restart (with no live CurrentSegment to
// delegate to) can use a nil owner instead.
type readerCounter interface {
	ReaderCount() int64
}

// Sealed is an immutable, finalized segment: its compacted-segment header
// is final, its committed page index will never change again, and it can
// be read randomly by page through its owning file.
type Sealed struct {
	header Header
	file   ioutil.File
	index  pageIndex

	// owner lets Sealed delegate reader-count bookkeeping to the
	// CurrentSegment it was sealed from, since a read transaction that
	// began before the seal still strongly references that same object
	// and must keep it alive until it ends. nil for a segment recovered
	// from disk on startup, which by construction has no outstanding
	// readers yet.
	owner readerCounter
}

func (s *Sealed) SegmentID() uuid.UUID { return s.header.SegmentID }
func (s *Sealed) StartFrameNo() uint64 { return s.header.StartFrameNo }
func (s *Sealed) EndFrameNo() uint64   { return s.header.EndFrameNo }
func (s *Sealed) SizeAfter() uint32    { return s.header.SizeAfter }

func (s *Sealed) ReaderCount() int64 {
	if s.owner == nil {
		return 0
	}
	return s.owner.ReaderCount()
}

// Recover wraps an already-sealed, on-disk compacted segment file as a
// Sealed, rebuilding its page index by scanning every frame. Used by the
// registry when it reopens a namespace whose sealed tail was written by a
// previous run.
func Recover(file ioutil.File) (*Sealed, error) {
	c, err := Open(file)
	if err != nil {
		return nil, err
	}
	if err := c.VerifyChecksum(); err != nil {
		return nil, err
	}

	idx := newPageIndex()
	f := frame.NewFrame()
	for slot := uint32(0); slot < c.Header.FrameCount; slot++ {
		if err := c.ReadFrameAt(slot, f); err != nil {
			return nil, err
		}
		idx = idx.appendEntry(f.PageNo, indexEntry{FrameNo: f.FrameNo, Offset: slot})
	}

	return &Sealed{header: c.Header, file: file, index: idx}, nil
}

// Close releases the underlying file. Callers must ensure no reader holds a
// reference (ReaderCount() == 0) first.
func (s *Sealed) Close() error { return s.file.Close() }

// ReadPage looks up the highest offset for pageNo not newer than
// maxFrameNo and, if found, reads its payload into buf. Returns false if
// this segment has no version of the page visible to maxFrameNo.
func (s *Sealed) ReadPage(pageNo uint32, maxFrameNo uint64, buf []byte) (bool, error) {
	e, ok := s.index.findAtOrBefore(pageNo, maxFrameNo)
	if !ok {
		return false, nil
	}
	if len(buf) != frame.PageSize {
		return false, fmt.Errorf("segment: read buffer is %d bytes, want %d", len(buf), frame.PageSize)
	}
	off := frameOffset(e.Offset) + frame.HeaderSize
	if _, err := s.file.ReadAt(buf, off); err != nil {
		return false, werr.WrapIO("read sealed page", err)
	}
	return true, nil
}

// List is the ordered collection of sealed segments for one database,
// newest first for lookup. Checkpoint consumes it oldest first.
// It is not safe for concurrent use; the coordinator serializes pushes,
// reads and drains under its own sealed-tail mutex (checkpoint drains
// without holding the write slot).
type List struct {
	// segments is kept newest-first: segments[0] is the most recently
	// sealed segment.
	segments []*Sealed
}

// Push adds a newly sealed segment as the new newest entry.
func (l *List) Push(s *Sealed) {
	l.segments = append([]*Sealed{s}, l.segments...)
}

// Len reports how many sealed segments are currently held.
func (l *List) Len() int { return len(l.segments) }

// CloseAll closes every segment's backing file, for use when the owning
// database is being shut down.
func (l *List) CloseAll() error {
	var firstErr error
	for _, seg := range l.segments {
		if err := seg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReadPage scans newest to oldest and returns the first segment's answer
// for pageNo bounded by maxFrameNo.
func (l *List) ReadPage(pageNo uint32, maxFrameNo uint64, buf []byte) (bool, error) {
	for _, seg := range l.segments {
		if seg.StartFrameNo() > maxFrameNo {
			continue
		}
		ok, err := seg.ReadPage(pageNo, maxFrameNo, buf)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Checkpoint drains segments oldest to newest into dbFile, writing each
// page's latest version (within the segment being drained) at
// (page_no-1)*page_size, fsyncing after each segment, then atomically
// dropping every drained segment with zero outstanding readers. Segments
// still referenced by a read transaction are left in place — and block
// further draining behind them, since checkpoint must preserve frame
// order — and Checkpoint returns early, still reporting whatever frame
// number it reached before stopping.
//
// It returns the highest frame number successfully checkpointed, the
// number of pages written to dbFile, and false if nothing was drained.
func (l *List) Checkpoint(dbFile ioutil.File, pageSize int) (uint64, int, bool, error) {
	var (
		highest      uint64
		pagesWritten int
		found        bool
		drainedTo    int
	)

	// oldest is at the end of the newest-first slice.
	for i := len(l.segments) - 1; i >= 0; i-- {
		seg := l.segments[i]
		if seg.ReaderCount() > 0 {
			break
		}

		buf := make([]byte, pageSize)
		for _, pageNo := range seg.pageNumbersLatest() {
			e, ok := seg.index.latest(pageNo)
			if !ok {
				continue
			}
			off := frameOffset(e.Offset) + frame.HeaderSize
			if _, err := seg.file.ReadAt(buf, off); err != nil {
				return highest, pagesWritten, found, werr.WrapIO("checkpoint read", err)
			}
			if _, err := dbFile.WriteAt(buf, (int64(pageNo)-1)*int64(pageSize)); err != nil {
				return highest, pagesWritten, found, werr.WrapIO("checkpoint write", err)
			}
			pagesWritten++
		}
		if err := dbFile.Sync(); err != nil {
			return highest, pagesWritten, found, werr.WrapIO("checkpoint sync", err)
		}

		highest = seg.EndFrameNo()
		found = true
		drainedTo = i
	}

	if found {
		// Drop every segment from drainedTo (oldest processed) to the end
		// (the actual oldest) — all of it was just drained.
		for _, seg := range l.segments[drainedTo:] {
			seg.Close()
		}
		l.segments = l.segments[:drainedTo]
	}

	return highest, pagesWritten, found, nil
}

func (s *Sealed) pageNumbersLatest() []uint32 {
	return s.index.pageNumbers()
}
