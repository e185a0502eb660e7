// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package pagewal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/dreamsxin/pagewal/frame"
	"github.com/dreamsxin/pagewal/ioutil"
	"github.com/dreamsxin/pagewal/metadb"
	"github.com/dreamsxin/pagewal/segment"
)

// segmentFileName is the on-disk name a sealed (or still-current) segment
// file is given within a namespace's wal directory.
func segmentFileName(id uuid.UUID) string { return id.String() + ".seg" }

// Registry owns every namespace's SharedWal for one base directory: one
// subdirectory per namespace holding the base database file, a wal/
// directory of segment files, and a registry-wide metadb recording segment
// ordering and the checkpoint watermark across restarts.
type Registry struct {
	baseDir  string
	resolver NamespaceResolver
	meta     *metadb.DB
	opts     []Option

	mu   sync.Mutex
	wals map[NamespaceName]*SharedWal
}

// OpenRegistry opens (creating if necessary) a registry rooted at baseDir.
// A nil resolver defaults to DefaultNamespaceResolver. opts are applied to
// every SharedWal the registry constructs.
func OpenRegistry(baseDir string, resolver NamespaceResolver, opts ...Option) (*Registry, error) {
	if resolver == nil {
		resolver = DefaultNamespaceResolver
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	meta, err := metadb.Open(filepath.Join(baseDir, "registry.db"))
	if err != nil {
		return nil, err
	}
	return &Registry{
		baseDir:  baseDir,
		resolver: resolver,
		meta:     meta,
		opts:     opts,
		wals:     make(map[NamespaceName]*SharedWal),
	}, nil
}

// Open returns the SharedWal for dbPath's namespace, constructing and, if
// any segments already exist on disk, recovering it on first use.
func (r *Registry) Open(dbPath string) (*SharedWal, error) {
	ns, err := r.resolver(dbPath)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.wals[ns]; ok {
		return w, nil
	}

	w, err := r.openLocked(ns)
	if err != nil {
		return nil, err
	}
	r.wals[ns] = w
	return w, nil
}

func (r *Registry) namespaceDir(ns NamespaceName) string {
	return filepath.Join(r.baseDir, string(ns))
}

func (r *Registry) walDir(ns NamespaceName) string {
	return filepath.Join(r.namespaceDir(ns), "wal")
}

// openLocked recovers or initializes the SharedWal for ns. Recovery opens
// every sealed segment recorded in metadb (oldest to newest, matching how
// List expects them pushed), then either recovers the partial current
// segment left over from the last run by scanning its frames up to the
// last commit marker, or creates a fresh one if this namespace has never
// been seen.
func (r *Registry) openLocked(ns NamespaceName) (*SharedWal, error) {
	nsDir := r.namespaceDir(ns)
	walDir := r.walDir(ns)
	if err := os.MkdirAll(walDir, 0o755); err != nil {
		return nil, err
	}

	dbFile, err := ioutil.OpenFile(filepath.Join(nsDir, "db"), 0o600)
	if err != nil {
		return nil, err
	}

	st, err := r.meta.Load(string(ns))
	if err != nil {
		return nil, err
	}

	// Push oldest first: each Push prepends, so pushing in chronological
	// order leaves the newest segment at the front, matching List's
	// newest-first invariant.
	sealedList := &segment.List{}
	for i := 0; i < len(st.Segments); i++ {
		rec := st.Segments[i]
		f, err := ioutil.OpenFile(rec.Path, 0o600)
		if err != nil {
			return nil, fmt.Errorf("pagewal: reopen sealed segment %s: %w", rec.Path, err)
		}
		sealed, err := segment.Recover(f)
		if err != nil {
			return nil, fmt.Errorf("pagewal: recover sealed segment %s: %w", rec.Path, err)
		}
		sealedList.Push(sealed)
	}

	var (
		cur          *segment.CurrentSegment
		startFrameNo uint64 = 1
		dbSize       uint32
	)
	if len(st.Segments) > 0 {
		last := st.Segments[len(st.Segments)-1]
		startFrameNo = last.EndFrameNo + 1
		dbSize = last.SizeAfter
	}

	if st.CurrentSegmentID != "" {
		// A current segment from before a restart exists on disk: recover
		// whatever it had committed rather than discarding it for an empty
		// one, which would silently drop every commit since the last seal.
		segID, err := uuid.Parse(st.CurrentSegmentID)
		if err != nil {
			return nil, fmt.Errorf("pagewal: parse current segment id %q: %w", st.CurrentSegmentID, err)
		}
		segFile, err := ioutil.OpenMmap(filepath.Join(walDir, segmentFileName(segID)), 0o600)
		if err != nil {
			return nil, err
		}
		cur, err = segment.RecoverCurrent(segFile)
		if err != nil {
			return nil, fmt.Errorf("pagewal: recover current segment %s: %w", st.CurrentSegmentID, err)
		}
	} else {
		segID := uuid.New()
		segFile, err := ioutil.OpenMmap(filepath.Join(walDir, segmentFileName(segID)), 0o600)
		if err != nil {
			return nil, err
		}
		cur, err = segment.New(segFile, segID, startFrameNo, dbSize)
		if err != nil {
			return nil, err
		}
		st.CurrentSegmentID = segID.String()
		if err := r.meta.Commit(string(ns), st); err != nil {
			return nil, err
		}
	}

	w := NewSharedWal(
		ns, dbFile, frame.PageSize, cur, sealedList, st.CheckpointedFrame,
		func(id uuid.UUID) (ioutil.File, error) {
			return ioutil.OpenMmap(filepath.Join(walDir, segmentFileName(id)), 0o600)
		},
		func(sealed *segment.Sealed, nextID uuid.UUID) error {
			return r.recordSeal(ns, walDir, sealed, nextID)
		},
		r.opts...,
	)
	return w, nil
}

// recordSeal persists a freshly sealed segment's place in the ordering to
// metadb, so a restart can rebuild the sealed tail without rescanning the
// wal directory, and repoints CurrentSegmentID at nextID, the segment the
// coordinator just started writing to in its place.
func (r *Registry) recordSeal(ns NamespaceName, walDir string, sealed *segment.Sealed, nextID uuid.UUID) error {
	st, err := r.meta.Load(string(ns))
	if err != nil {
		return err
	}
	st.Segments = append(st.Segments, metadb.SegmentRecord{
		ID:           sealed.SegmentID().String(),
		Path:         filepath.Join(walDir, segmentFileName(sealed.SegmentID())),
		StartFrameNo: sealed.StartFrameNo(),
		EndFrameNo:   sealed.EndFrameNo(),
		SizeAfter:    sealed.SizeAfter(),
	})
	st.CurrentSegmentID = nextID.String()
	return r.meta.Commit(string(ns), st)
}

// Checkpoint runs SharedWal.Checkpoint for ns and persists the new
// watermark to metadb.
func (r *Registry) Checkpoint(ns NamespaceName) (uint64, error) {
	r.mu.Lock()
	w, ok := r.wals[ns]
	r.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("pagewal: namespace %q not open", ns)
	}

	highest, err := w.Checkpoint()
	if err != nil {
		return highest, err
	}

	st, err := r.meta.Load(string(ns))
	if err != nil {
		return highest, err
	}
	st.CheckpointedFrame = highest
	return highest, r.meta.Commit(string(ns), st)
}

// Close closes every open SharedWal's underlying files and the registry's
// own metadb.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, w := range r.wals {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.meta.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
