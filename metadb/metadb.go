// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Package metadb persists the small amount of durable bookkeeping the
// registry needs to survive a restart: which sealed segment files exist for
// a namespace, which segment is current, and the last checkpointed frame
// number. State also carries a NextSegmentID field, which the registry
// does not set (segment ids are random UUIDs). It is intentionally tiny — the segment files themselves are
// the source of truth for frame contents; this is just enough to avoid
// rescanning a directory's segment files to discover ordering on recovery.
package metadb

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

var namespacesBucket = []byte("namespaces")

// SegmentRecord is the persisted description of one sealed segment file.
type SegmentRecord struct {
	ID           string `json:"id"`
	Path         string `json:"path"`
	StartFrameNo uint64 `json:"start_frame_no"`
	EndFrameNo   uint64 `json:"end_frame_no"`
	SizeAfter    uint32 `json:"size_after"`
}

// State is the full persisted state for one namespace.
type State struct {
	NextSegmentID     uint64          `json:"next_segment_id"`
	CheckpointedFrame uint64          `json:"checkpointed_frame_no"`
	Segments          []SegmentRecord `json:"segments"`
	// CurrentSegmentID is the id of the still-open segment frames are
	// currently being appended to, so a restart can recover it from its
	// partial on-disk file instead of discarding it and starting fresh.
	// Empty for a namespace that has never had a current segment created.
	CurrentSegmentID string `json:"current_segment_id"`
}

// DB wraps a bbolt database storing one State per namespace, keyed by
// namespace name.
type DB struct {
	bolt *bbolt.DB
}

// Open opens (creating if necessary) the metadata database at path.
func Open(path string) (*DB, error) {
	bdb, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("metadb: open %s: %w", path, err)
	}
	err = bdb.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(namespacesBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}
	return &DB{bolt: bdb}, nil
}

func (db *DB) Close() error { return db.bolt.Close() }

// Load returns the persisted state for namespace, or a zero-value State if
// none has been committed yet.
func (db *DB) Load(namespace string) (State, error) {
	var st State
	err := db.bolt.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(namespacesBucket)
		raw := b.Get([]byte(namespace))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &st)
	})
	return st, err
}

// Commit atomically persists state for namespace.
func (db *DB) Commit(namespace string, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return db.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(namespacesBucket)
		return b.Put([]byte(namespace), raw)
	})
}
