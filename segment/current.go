// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Package segment implements the current (appendable) log segment, the
// sealed-segment tail, and the on-disk compacted segment codec those
// segments are serialized to once sealed.
package segment

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dreamsxin/pagewal/frame"
	"github.com/dreamsxin/pagewal/ioutil"
	"github.com/dreamsxin/pagewal/werr"
)

// headerSnapshot is published atomically so a reader of (lastCommitted,
// dbSize) always sees a pair that came from the same commit. Storing both
// fields in one atomic.Pointer swap is simpler in Go than a short critical
// section guarded by the tx_id lock.
type headerSnapshot struct {
	lastCommitted uint64
	dbSize        uint32
}

// CurrentSegment is the single appendable log segment for a database:
// frames accumulate here until a size threshold triggers a seal. At most
// one writer touches the mutable fields below at a time (enforced by the
// coordinator's WalLock), so they need no locking of their own; only the
// fields readers touch concurrently (header, index, sealed, readerCount)
// are atomic.
type CurrentSegment struct {
	file      ioutil.File
	segmentID uuid.UUID

	startFrameNo uint64

	// nextFrameNo/nextOffset/committedCount are canonical: only the single
	// active writer mutates them, via InsertPages/CommitPending/RollbackTo.
	nextFrameNo    uint64
	nextOffset     uint32
	committedCount uint32

	index  atomic.Pointer[pageIndex]
	header atomic.Pointer[headerSnapshot]
	sealed atomic.Bool

	readerCount atomic.Int64
}

// New creates a fresh current segment backed by file, starting at
// startFrameNo with the given initial logical database size. It writes the
// provisional compacted-segment header immediately so the same file can
// later be finalized in place by Seal.
func New(file ioutil.File, segmentID uuid.UUID, startFrameNo uint64, dbSize uint32) (*CurrentSegment, error) {
	h := Header{
		Magic:        Magic,
		Version:      Version,
		FrameCount:   0,
		SegmentID:    segmentID,
		StartFrameNo: startFrameNo,
		EndFrameNo:   startFrameNo,
		SizeAfter:    dbSize,
		PageSize:     frame.PageSize,
	}
	if err := WriteHeader(file, h); err != nil {
		return nil, werr.WrapIO("write segment header", err)
	}

	s := &CurrentSegment{
		file:         file,
		segmentID:    segmentID,
		startFrameNo: startFrameNo,
		nextFrameNo:  startFrameNo,
		nextOffset:   0,
	}
	idx := newPageIndex()
	s.index.Store(&idx)
	s.header.Store(&headerSnapshot{lastCommitted: startFrameNo - 1, dbSize: dbSize})
	return s, nil
}

func (s *CurrentSegment) SegmentID() uuid.UUID   { return s.segmentID }
func (s *CurrentSegment) StartFrameNo() uint64   { return s.startFrameNo }
func (s *CurrentSegment) NextFrameNo() uint64    { return s.nextFrameNo }
func (s *CurrentSegment) NextOffset() uint32     { return s.nextOffset }
func (s *CurrentSegment) CommittedCount() uint32 { return s.committedCount }
func (s *CurrentSegment) IsSealed() bool         { return s.sealed.Load() }

// IncReaderCount / DecReaderCount track outstanding read transactions that
// hold a reference to this segment. A sealed segment with a non-zero reader
// count must not be discarded from memory.
func (s *CurrentSegment) IncReaderCount() { s.readerCount.Add(1) }
func (s *CurrentSegment) DecReaderCount() { s.readerCount.Add(-1) }
func (s *CurrentSegment) ReaderCount() int64 { return s.readerCount.Load() }

// Header atomically returns (last_committed_frame_no, db_size) as of the
// most recent commit, guaranteeing both values came from the same commit.
func (s *CurrentSegment) Header() (uint64, uint32) {
	h := s.header.Load()
	return h.lastCommitted, h.dbSize
}

func (s *CurrentSegment) LastCommittedFrameNo() uint64 {
	lc, _ := s.Header()
	return lc
}

func (s *CurrentSegment) DBSize() uint32 {
	_, sz := s.Header()
	return sz
}

// InsertPages appends each page as a frame at the segment's current
// (frameNo, offset) cursor, advancing both per frame. If markCommit is
// true, the last page written carries sizeAfter as its commit marker.
// Appended frames are written to the file but are NOT yet visible to
// readers — that only happens once CommitPending folds them into the
// committed index. This split lets a single write transaction call
// InsertPages multiple times (e.g. across several savepoints) before a
// final commit makes everything it wrote visible at once.
func (s *CurrentSegment) InsertPages(pages []frame.PageWrite, markCommit bool, sizeAfter uint32) ([]frame.WriteRecord, uint64, error) {
	if s.IsSealed() {
		return nil, 0, werr.ErrSealed
	}
	if len(pages) == 0 {
		return nil, s.nextFrameNo - 1, nil
	}

	records := make([]frame.WriteRecord, 0, len(pages))
	var lastFrameNo uint64
	buf := make([]byte, frame.Size)

	for i, pw := range pages {
		if len(pw.Data) != frame.PageSize {
			return nil, 0, fmt.Errorf("segment: page %d is %d bytes, want %d", pw.PageNo, len(pw.Data), frame.PageSize)
		}
		frameNo := s.nextFrameNo
		offset := s.nextOffset

		hdr := frame.Header{PageNo: pw.PageNo, FrameNo: frameNo}
		if markCommit && i == len(pages)-1 {
			hdr.SizeAfter = sizeAfter
		}
		f := frame.Frame{Header: hdr, Page: pw.Data}
		if err := frame.Encode(buf, &f); err != nil {
			return nil, 0, err
		}
		if _, err := s.file.WriteAt(buf, frameByteOffset(offset)); err != nil {
			return nil, 0, werr.WrapIO("append frame", err)
		}

		records = append(records, frame.WriteRecord{PageNo: pw.PageNo, FrameNo: frameNo, Offset: offset})
		lastFrameNo = frameNo
		s.nextFrameNo++
		s.nextOffset++
	}

	return records, lastFrameNo, nil
}

// frameByteOffset returns the byte offset of the offset-th frame slot
// within this segment's file, which is laid out exactly like a compacted
// segment: header, then frame records back to back.
func frameByteOffset(offset uint32) int64 {
	return int64(HeaderSize) + int64(offset)*int64(frame.Size)
}

// CommitPending folds every savepoint index delta (ordered oldest to
// newest, so later deltas win on conflicting page numbers) into the
// committed index, and publishes a new (lastFrameNo, dbSize) header
// snapshot, making every frame written since the last commit visible to
// new readers of this segment.
func (s *CurrentSegment) CommitPending(deltasOldestFirst []map[uint32]uint32, lastFrameNo uint64, dbSize uint32) {
	idx := *s.index.Load()
	for _, delta := range deltasOldestFirst {
		for pageNo, offset := range delta {
			idx = idx.appendEntry(pageNo, indexEntry{FrameNo: lastFrameNoForOffset(offset, s), Offset: offset})
		}
	}
	s.index.Store(&idx)
	s.committedCount = s.nextOffset
	s.header.Store(&headerSnapshot{lastCommitted: lastFrameNo, dbSize: dbSize})
}

// lastFrameNoForOffset recovers the frame number a given offset was written
// with. Offsets and frame numbers both advance in lockstep starting from
// startFrameNo at offset 0, so this is an O(1) arithmetic lookup rather
// than a file read.
func lastFrameNoForOffset(offset uint32, s *CurrentSegment) uint64 {
	return s.startFrameNo + uint64(offset)
}

// RollbackTo resets the canonical write cursor back to a savepoint's
// recorded position, discarding any frames appended after it. The bytes
// already written past the new cursor are left on disk but are
// unreachable: they're never indexed and will simply be overwritten by the
// next insert.
func (s *CurrentSegment) RollbackTo(nextOffset uint32, nextFrameNo uint64) {
	s.nextOffset = nextOffset
	s.nextFrameNo = nextFrameNo
}

// FindFrame returns the highest in-segment offset for pageNo visible to a
// transaction with the given snapshot: first consulting writeDeltas
// (newest-first, non-empty only for a write transaction reading its own
// uncommitted writes), then the committed index bounded by maxFrameNo.
func (s *CurrentSegment) FindFrame(pageNo uint32, maxFrameNo uint64, writeDeltasNewestFirst []map[uint32]uint32) (uint32, bool) {
	for _, delta := range writeDeltasNewestFirst {
		if offset, ok := delta[pageNo]; ok {
			return offset, true
		}
	}
	idx := *s.index.Load()
	e, ok := idx.findAtOrBefore(pageNo, maxFrameNo)
	if !ok {
		return 0, false
	}
	return e.Offset, true
}

// ReadPageAtOffset reads the page payload of the frame at offset into buf,
// which must be frame.PageSize bytes.
func (s *CurrentSegment) ReadPageAtOffset(offset uint32, buf []byte) error {
	if len(buf) != frame.PageSize {
		return fmt.Errorf("segment: read buffer is %d bytes, want %d", len(buf), frame.PageSize)
	}
	pageOff := frameByteOffset(offset) + frame.HeaderSize
	_, err := s.file.ReadAt(buf, pageOff)
	return werr.WrapIO("read page", err)
}

// FrameHeaderAt reads just the header of the frame at offset, used by
// debug assertions that validate frame_no/page_no without paying for the
// full page payload.
func (s *CurrentSegment) FrameHeaderAt(offset uint32) (frame.Header, error) {
	buf := make([]byte, frame.HeaderSize)
	if _, err := s.file.ReadAt(buf, frameByteOffset(offset)); err != nil {
		return frame.Header{}, werr.WrapIO("read frame header", err)
	}
	return frame.DecodeHeader(buf)
}

// Seal finalizes this segment's backing file into a valid compacted
// segment (rewriting the header's frame_count/end_frame_no/size_after in
// place and appending the footer CRC), marks it sealed, and returns a
// Sealed view over it. The caller is responsible for installing a
// fresh CurrentSegment starting at EndFrameNo()+1.
func (s *CurrentSegment) Seal() (*Sealed, error) {
	if s.sealed.Swap(true) {
		return nil, fmt.Errorf("segment: already sealed")
	}
	lastCommitted, dbSize := s.Header()
	h := Header{
		Magic:        Magic,
		Version:      Version,
		FrameCount:   s.committedCount,
		SegmentID:    s.segmentID,
		StartFrameNo: s.startFrameNo,
		EndFrameNo:   lastCommitted,
		SizeAfter:    dbSize,
		PageSize:     frame.PageSize,
	}
	if err := Finalize(s.file, h); err != nil {
		return nil, werr.WrapIO("finalize segment", err)
	}
	idx := *s.index.Load()
	return &Sealed{
		header: h,
		file:   s.file,
		index:  idx,
		owner:  s,
	}, nil
}

// EndFrameNo is only meaningful once the segment is committed at least
// once; it is the frame number of the most recently committed frame.
func (s *CurrentSegment) EndFrameNo() uint64 {
	lc, _ := s.Header()
	return lc
}

// Close closes the segment's backing file. Callers must ensure no read
// transaction still references this segment first.
func (s *CurrentSegment) Close() error { return s.file.Close() }

// RecoverCurrent reopens a still-current (never sealed) segment file left
// over from before a restart, scanning every frame slot the file actually
// holds to rebuild the write cursor and committed page index up through
// the last commit marker. Frames appended after the last commit belong to
// a write transaction that never reached CommitPending before the crash:
// they're left on disk but discarded the same way RollbackTo discards a
// rolled-back savepoint's tail — unreachable, and due to be overwritten by
// the next insert.
func RecoverCurrent(file ioutil.File) (*CurrentSegment, error) {
	buf := make([]byte, HeaderSize)
	if _, err := file.ReadAt(buf, 0); err != nil {
		return nil, werr.WrapIO("read segment header", err)
	}
	h := DecodeHeader(buf)
	if err := h.Check(); err != nil {
		return nil, err
	}

	size, err := file.Size()
	if err != nil {
		return nil, err
	}
	var slots uint32
	if size > int64(HeaderSize) {
		slots = uint32((size - int64(HeaderSize)) / int64(frame.Size))
	}

	idx := newPageIndex()
	pendingOffsets := make(map[uint32]uint32)
	lastCommitted := h.StartFrameNo - 1
	dbSize := h.SizeAfter
	var committedCount uint32

	hdrBuf := make([]byte, frame.HeaderSize)
	for slot := uint32(0); slot < slots; slot++ {
		if _, err := file.ReadAt(hdrBuf, frameByteOffset(slot)); err != nil {
			return nil, werr.WrapIO("read recovered frame header", err)
		}
		fh, err := frame.DecodeHeader(hdrBuf)
		if err != nil {
			return nil, err
		}
		pendingOffsets[fh.PageNo] = slot
		if fh.IsCommit() {
			for pageNo, offset := range pendingOffsets {
				idx = idx.appendEntry(pageNo, indexEntry{FrameNo: h.StartFrameNo + uint64(offset), Offset: offset})
			}
			pendingOffsets = make(map[uint32]uint32)
			lastCommitted = fh.FrameNo
			dbSize = fh.SizeAfter
			committedCount = slot + 1
		}
	}

	s := &CurrentSegment{
		file:           file,
		segmentID:      h.SegmentID,
		startFrameNo:   h.StartFrameNo,
		nextFrameNo:    lastCommitted + 1,
		nextOffset:     committedCount,
		committedCount: committedCount,
	}
	s.index.Store(&idx)
	s.header.Store(&headerSnapshot{lastCommitted: lastCommitted, dbSize: dbSize})
	return s, nil
}
