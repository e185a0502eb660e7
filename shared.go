// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package pagewal

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dreamsxin/pagewal/frame"
	"github.com/dreamsxin/pagewal/ioutil"
	"github.com/dreamsxin/pagewal/segment"
	"github.com/dreamsxin/pagewal/txn"
	"github.com/dreamsxin/pagewal/werr"
)

// defaultSegmentThreshold is the number of frames a segment accumulates
// before it is sealed and swapped for a fresh one.
const defaultSegmentThreshold = 1000

// SharedWal is the coordinator one namespace's connections share: the
// single current segment, the sealed tail, the write lock arbitrating
// upgrade, and the base database file checkpoint drains into. The
// reserved-slot livelock prevention lives in WalLock; the full-history page
// index lives in the segment package.
type SharedWal struct {
	namespace NamespaceName
	dbFile    ioutil.File
	pageSize  int

	current atomic.Pointer[segment.CurrentSegment]

	sealedMu sync.Mutex
	sealed   *segment.List

	lock   *WalLock
	filter FrameFilter

	segmentThreshold uint32

	checkpointedFrameNo atomic.Uint64

	// newSegmentFile opens a fresh backing file for a segment about to be
	// created by swapCurrent; file naming and directory layout are the
	// registry's concern, not this one's.
	newSegmentFile func(segmentID uuid.UUID) (ioutil.File, error)
	// onSeal is invoked after a segment is sealed and its successor
	// installed, so the registry can persist the new segment ordering to
	// metadb before it forgets about the just-sealed file.
	onSeal func(sealed *segment.Sealed, nextSegmentID uuid.UUID) error

	logger  log.Logger
	metrics *walMetrics
}

// Option configures a SharedWal at construction.
type Option func(*SharedWal)

// WithFrameFilter installs a FrameFilter other than the no-op default.
func WithFrameFilter(f FrameFilter) Option {
	return func(s *SharedWal) { s.filter = f }
}

// WithSegmentThreshold overrides defaultSegmentThreshold.
func WithSegmentThreshold(frames uint32) Option {
	return func(s *SharedWal) { s.segmentThreshold = frames }
}

// WithLogger installs a go-kit logger other than the no-op default.
func WithLogger(l log.Logger) Option {
	return func(s *SharedWal) { s.logger = l }
}

// WithMetricsRegisterer registers this SharedWal's collectors against reg
// instead of a private, unexported registry.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(s *SharedWal) { s.metrics = newWALMetrics(reg) }
}

// NewSharedWal assembles a coordinator around an already-open current
// segment and sealed tail, as produced by the registry during Open or
// recovery.
func NewSharedWal(
	namespace NamespaceName,
	dbFile ioutil.File,
	pageSize int,
	current *segment.CurrentSegment,
	sealed *segment.List,
	checkpointedFrameNo uint64,
	newSegmentFile func(uuid.UUID) (ioutil.File, error),
	onSeal func(*segment.Sealed, uuid.UUID) error,
	opts ...Option,
) *SharedWal {
	s := &SharedWal{
		namespace:        namespace,
		dbFile:           dbFile,
		pageSize:         pageSize,
		sealed:           sealed,
		lock:             NewWalLock(),
		filter:           noopFilter{},
		segmentThreshold: defaultSegmentThreshold,
		newSegmentFile:   newSegmentFile,
		onSeal:           onSeal,
		logger:           log.NewNopLogger(),
	}
	s.current.Store(current)
	s.checkpointedFrameNo.Store(checkpointedFrameNo)
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = newWALMetrics(prometheus.NewRegistry())
	}
	return s
}

// Namespace reports which database this coordinator serves.
func (s *SharedWal) Namespace() NamespaceName { return s.namespace }

// BeginRead opens a read snapshot against whatever is current right now:
// the last committed frame number and logical database size, plus a
// reference that keeps that segment alive even if it is sealed and
// replaced before this transaction ends.
func (s *SharedWal) BeginRead(connID uint64) *txn.ReadTransaction {
	cur := s.current.Load()
	cur.IncReaderCount()
	lastCommitted, dbSize := cur.Header()
	return &txn.ReadTransaction{
		ID:         s.lock.AllocTxID(),
		MaxFrameNo: lastCommitted,
		DBSize:     dbSize,
		Current:    cur,
		ConnID:     connID,
	}
}

// EndRead releases a read transaction opened with BeginRead that is never
// upgraded to a write transaction.
func (s *SharedWal) EndRead(rt *txn.ReadTransaction) { rt.End() }

// Upgrade converts a read snapshot into a write transaction, blocking (or
// returning early via ctx) until this connection holds the single write
// slot. If another writer has committed since rt's snapshot was taken, the
// snapshot is stale: the slot is released immediately and ErrBusySnapshot
// is returned so the caller can begin a fresh read transaction and retry.
//
// A connection that has read at most one page under its snapshot gets the
// reserved bypass slot for its retry, so a long queue of writers can never
// starve a reader that only ever touches the root page (the livelock this
// guards against is documented on WalLock).
func (s *SharedWal) Upgrade(ctx context.Context, rt *txn.ReadTransaction) (*txn.WriteTransaction, error) {
	acquired, waitCh, cancel := s.lock.acquireOrEnqueue(rt.ConnID, rt.ID)
	if !acquired {
		s.metrics.waiterQueueDepth.Inc()
		select {
		case <-waitCh:
			s.metrics.waiterQueueDepth.Dec()
		case <-ctx.Done():
			cancel()
			s.metrics.waiterQueueDepth.Dec()
			return nil, ctx.Err()
		}
	}

	cur := s.current.Load()
	if cur != rt.Current || rt.MaxFrameNo != cur.LastCommittedFrameNo() {
		s.lock.release()
		s.metrics.busySnapshotRetries.Inc()
		if rt.PagesRead <= 1 {
			s.lock.reserve(rt.ConnID)
		}
		return nil, werr.ErrBusySnapshot
	}
	return txn.New(*rt), nil
}

// InsertFrames appends pages to wt's segment, applying the frame filter to
// every page other than page 1, and folds them into wt's topmost
// savepoint. If commit is true the last page written carries dbSize as its
// commit marker and every pending write across wt's savepoints becomes
// visible to new readers of this segment.
func (s *SharedWal) InsertFrames(wt *txn.WriteTransaction, pages []frame.PageWrite, commit bool, dbSize uint32) error {
	for _, pw := range pages {
		if pw.PageNo == 1 {
			continue
		}
		if err := s.filter.Encode(pw.PageNo, pw.Data); err != nil {
			return err
		}
	}

	records, lastFrameNo, err := wt.Read.Current.InsertPages(pages, commit, dbSize)
	if err != nil {
		return err
	}
	wt.RecordWrites(records)
	for range records {
		s.metrics.framesAppended.Inc()
	}

	if commit {
		wt.Read.Current.CommitPending(wt.DeltasOldestFirst(), lastFrameNo, dbSize)
		wt.Commit()
		s.metrics.commits.Inc()
	}
	return nil
}

// RollbackSavepoint undoes every write recorded since savepoint k
// (inclusive of k's own writes), resetting the segment's write cursor to
// match.
func (s *SharedWal) RollbackSavepoint(wt *txn.WriteTransaction, k int) {
	sp := wt.RollbackTo(k)
	wt.Read.Current.RollbackTo(sp.NextOffset, sp.NextFrameNo)
}

// Abort discards every write wt made and releases the write slot.
func (s *SharedWal) Abort(wt *txn.WriteTransaction) error {
	s.RollbackSavepoint(wt, 0)
	return s.EndWrite(wt)
}

// EndWrite releases the write slot and the underlying read snapshot, and
// seals the current segment once it holds at least the configured
// threshold of frames. Must be called exactly once per write transaction, whether
// committed or aborted.
func (s *SharedWal) EndWrite(wt *txn.WriteTransaction) error {
	defer s.lock.release()
	defer wt.Read.End()

	if wt.Read.Current.NextOffset() < s.segmentThreshold {
		return nil
	}
	return s.swapCurrent(wt.Read.Current)
}

// swapCurrent seals cur, opens and installs a fresh current segment
// starting right after it, and pushes the sealed segment onto the tail.
// Callers must hold the write lock (swapCurrent is only ever called from
// EndWrite, under the slot it is about to release).
func (s *SharedWal) swapCurrent(cur *segment.CurrentSegment) error {
	sealed, err := cur.Seal()
	if err != nil {
		return err
	}
	s.metrics.segmentSeals.Inc()
	level.Debug(s.logger).Log("msg", "sealed segment", "namespace", s.namespace,
		"start_frame_no", sealed.StartFrameNo(), "end_frame_no", sealed.EndFrameNo())

	nextID := uuid.New()
	startFrameNo := sealed.EndFrameNo() + 1
	file, err := s.newSegmentFile(nextID)
	if err != nil {
		return werr.WrapIO("open next segment", err)
	}
	next, err := segment.New(file, nextID, startFrameNo, sealed.SizeAfter())
	if err != nil {
		return err
	}

	s.sealedMu.Lock()
	s.sealed.Push(sealed)
	s.sealedMu.Unlock()

	s.current.Store(next)

	if s.onSeal != nil {
		return s.onSeal(sealed, nextID)
	}
	return nil
}

// ReadFrame resolves pageNo as of rt's snapshot, searching the current
// segment, then the sealed tail, then falling back to the base database
// file. The frame filter is applied to the result for every page other
// than page 1, regardless of which tier it was served from, since the
// base file stores the same at-rest representation the log does.
func (s *SharedWal) ReadFrame(rt *txn.ReadTransaction, pageNo uint32, buf []byte) error {
	rt.PagesRead++
	return s.readFrame(rt.Current, rt.MaxFrameNo, nil, pageNo, buf)
}

// ReadFrameForWrite is ReadFrame for a connection that currently holds the
// write slot: it also consults wt's own uncommitted savepoint deltas, so a
// write transaction sees its own writes before they commit.
func (s *SharedWal) ReadFrameForWrite(wt *txn.WriteTransaction, pageNo uint32, buf []byte) error {
	wt.Read.PagesRead++
	return s.readFrame(wt.Read.Current, wt.Read.MaxFrameNo, wt.DeltasNewestFirst(), pageNo, buf)
}

func (s *SharedWal) readFrame(cur *segment.CurrentSegment, maxFrameNo uint64, deltasNewestFirst []map[uint32]uint32, pageNo uint32, buf []byte) error {
	s.metrics.framesRead.Inc()

	if offset, ok := cur.FindFrame(pageNo, maxFrameNo, deltasNewestFirst); ok {
		if werr.StrictInvariants {
			if hdr, err := cur.FrameHeaderAt(offset); err == nil {
				werr.Assert(hdr.FrameNo <= maxFrameNo, "read frame %d exceeds snapshot max_frame_no %d", hdr.FrameNo, maxFrameNo)
				werr.Assert(hdr.PageNo == pageNo, "resolved frame page_no %d does not match requested page_no %d", hdr.PageNo, pageNo)
			}
		}
		if err := cur.ReadPageAtOffset(offset, buf); err != nil {
			return err
		}
		return s.applyDecode(pageNo, buf)
	}

	s.sealedMu.Lock()
	found, err := s.sealed.ReadPage(pageNo, maxFrameNo, buf)
	s.sealedMu.Unlock()
	if err != nil {
		return err
	}
	if found {
		return s.applyDecode(pageNo, buf)
	}

	if _, err := s.dbFile.ReadAt(buf, (int64(pageNo)-1)*int64(s.pageSize)); err != nil {
		return werr.WrapIO("read base page", err)
	}
	return s.applyDecode(pageNo, buf)
}

// replicationIndexOffset is where the replication_index field sits on page
// 1, immediately after the standard 100-byte sqlite file header, as an
// 8-byte little-endian frame number.
const replicationIndexOffset = 100

func (s *SharedWal) applyDecode(pageNo uint32, buf []byte) error {
	if pageNo == 1 {
		if werr.StrictInvariants && len(buf) >= replicationIndexOffset+8 {
			replIdx := binary.LittleEndian.Uint64(buf[replicationIndexOffset : replicationIndexOffset+8])
			werr.Assert(replIdx == s.checkpointedFrameNo.Load(),
				"page 1 replication_index %d does not match checkpointed_frame_no %d", replIdx, s.checkpointedFrameNo.Load())
		}
		return nil
	}
	return s.filter.Decode(pageNo, buf)
}

// Checkpoint drains every sealed segment with no outstanding readers into
// the base file, oldest first, stopping at the first segment a reader
// still references. It returns the highest frame number now durable in
// the base file; if nothing was drained it returns the previous value
// unchanged.
func (s *SharedWal) Checkpoint() (uint64, error) {
	s.sealedMu.Lock()
	defer s.sealedMu.Unlock()

	highest, pagesWritten, drained, err := s.sealed.Checkpoint(s.dbFile, s.pageSize)
	if err != nil {
		return s.checkpointedFrameNo.Load(), err
	}
	if !drained {
		return s.checkpointedFrameNo.Load(), nil
	}

	s.checkpointedFrameNo.Store(highest)
	s.metrics.checkpoints.Inc()
	s.metrics.pagesCheckpointed.Add(float64(pagesWritten))
	s.metrics.checkpointedFrameNo.Set(float64(highest))
	level.Info(s.logger).Log("msg", "checkpoint", "namespace", s.namespace, "checkpointed_frame_no", highest)
	return highest, nil
}

// Close closes the current segment, every sealed segment, and the base
// database file. The caller is responsible for ensuring no transaction is
// still in flight.
func (s *SharedWal) Close() error {
	var firstErr error
	if err := s.current.Load().Close(); err != nil {
		firstErr = err
	}

	s.sealedMu.Lock()
	if err := s.sealed.CloseAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	s.sealedMu.Unlock()

	if err := s.dbFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Stats is a point-in-time snapshot of coordinator state, exposed for
// diagnostics and tests rather than scraped directly (use the Prometheus
// registerer passed to WithMetricsRegisterer for that).
type Stats struct {
	Namespace           NamespaceName
	CurrentStartFrameNo uint64
	LastCommittedFrameNo uint64
	DBSizePages          uint32
	SealedSegments       int
	CheckpointedFrameNo  uint64
}

// Stats returns a snapshot of this coordinator's current state.
func (s *SharedWal) Stats() Stats {
	cur := s.current.Load()
	lastCommitted, dbSize := cur.Header()

	s.sealedMu.Lock()
	sealedLen := s.sealed.Len()
	s.sealedMu.Unlock()

	return Stats{
		Namespace:             s.namespace,
		CurrentStartFrameNo:   cur.StartFrameNo(),
		LastCommittedFrameNo:  lastCommitted,
		DBSizePages:           dbSize,
		SealedSegments:        sealedLen,
		CheckpointedFrameNo:   s.checkpointedFrameNo.Load(),
	}
}
