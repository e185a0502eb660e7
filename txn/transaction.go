// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Package txn implements the read and write transaction types connections
// use to talk to a SharedWal: a cheap read snapshot, and a write
// transaction holding the writer slot plus a stack of savepoints.
package txn

import (
	"time"

	"github.com/dreamsxin/pagewal/frame"
	"github.com/dreamsxin/pagewal/segment"
)

// ReadTransaction is a snapshot: the last committed frame number and
// logical database size as of begin, plus a strong reference to the
// current segment at that time, which extends that segment's lifetime past
// any later seal.
type ReadTransaction struct {
	ID         uint64
	MaxFrameNo uint64
	DBSize     uint32
	Current    *segment.CurrentSegment
	CreatedAt  time.Time
	ConnID     uint64
	PagesRead  uint64
}

// End releases this transaction's hold on its segment snapshot. Must be
// called exactly once, when the connection is done with the transaction.
func (rt *ReadTransaction) End() {
	rt.Current.DecReaderCount()
}

// Savepoint records a rollback point within a write transaction: the
// (next_offset, next_frame_no) cursor at the time it was pushed, and an
// index delta of every page this savepoint's span has written.
type Savepoint struct {
	NextOffset  uint32
	NextFrameNo uint64
	Index       map[uint32]uint32
}

// WriteTransaction wraps a ReadTransaction plus the writer-slot ownership
// the coordinator granted it. Savepoint deltas are searched newest-first so
// a write transaction reading its own uncommitted writes sees the most
// recent value.
type WriteTransaction struct {
	Read        ReadTransaction
	Savepoints  []Savepoint
	IsCommitted bool
}

// New starts a write transaction from an upgraded read snapshot, seeding
// its first savepoint from the segment's current write cursor.
func New(read ReadTransaction) *WriteTransaction {
	return &WriteTransaction{
		Read: read,
		Savepoints: []Savepoint{{
			NextOffset:  read.Current.NextOffset(),
			NextFrameNo: read.Current.NextFrameNo(),
			Index:       make(map[uint32]uint32),
		}},
	}
}

// PushSavepoint snapshots the segment's current write cursor as a new
// rollback point and returns its index within Savepoints.
func (wt *WriteTransaction) PushSavepoint() int {
	wt.Savepoints = append(wt.Savepoints, Savepoint{
		NextOffset:  wt.Read.Current.NextOffset(),
		NextFrameNo: wt.Read.Current.NextFrameNo(),
		Index:       make(map[uint32]uint32),
	})
	return len(wt.Savepoints) - 1
}

// RollbackTo discards every savepoint after k and clears k's own writes
// too (savepoint k itself stays on the stack, with an empty index),
// returning the point the caller must also roll the segment's write cursor
// back to via segment.RollbackTo.
func (wt *WriteTransaction) RollbackTo(k int) Savepoint {
	target := wt.Savepoints[k]
	wt.Savepoints = wt.Savepoints[:k+1]
	// Writes recorded at the target savepoint itself must also be undone:
	// rolling back "to" k means the transaction returns to the state it was
	// in when PushSavepoint(k) was called, before any of k's own writes.
	target.Index = make(map[uint32]uint32)
	wt.Savepoints[k] = target
	return target
}

// RecordWrites folds freshly appended frames into the topmost savepoint's
// index delta.
func (wt *WriteTransaction) RecordWrites(records []frame.WriteRecord) {
	top := &wt.Savepoints[len(wt.Savepoints)-1]
	for _, r := range records {
		top.Index[r.PageNo] = r.Offset
	}
}

// DeltasNewestFirst returns every savepoint's index delta ordered from most
// recent to oldest, for find_frame lookups performed under this write
// transaction.
func (wt *WriteTransaction) DeltasNewestFirst() []map[uint32]uint32 {
	out := make([]map[uint32]uint32, len(wt.Savepoints))
	for i, sp := range wt.Savepoints {
		out[len(wt.Savepoints)-1-i] = sp.Index
	}
	return out
}

// DeltasOldestFirst returns every savepoint's index delta in chronological
// order, for flattening into the segment's committed index at commit time.
func (wt *WriteTransaction) DeltasOldestFirst() []map[uint32]uint32 {
	out := make([]map[uint32]uint32, len(wt.Savepoints))
	for i, sp := range wt.Savepoints {
		out[i] = sp.Index
	}
	return out
}

// Commit marks this transaction committed. Commit does not itself touch
// the segment; the coordinator calls segment.CommitPending with
// DeltasOldestFirst() once it has appended the final, size-after-bearing
// frame.
func (wt *WriteTransaction) Commit() { wt.IsCommitted = true }
