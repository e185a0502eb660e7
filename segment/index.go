// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package segment

import "github.com/benbjohnson/immutable"

// indexEntry pairs a frame number with the byte offset (expressed as a
// frame slot, see frameByteOffset) it was written at. Within one segment,
// offsets are handed out in lockstep with frame numbers, so entries for a
// given page are naturally ordered ascending by both fields.
type indexEntry struct {
	FrameNo uint64
	Offset  uint32
}

// pageIndex maps page number to the ordered history of offsets that page
// was written at within one segment. We keep the whole history (not just
// the latest) because a reader may hold a snapshot older than the most
// recent write to this still-current segment: find_frame needs the highest
// offset whose frame number does not exceed the reader's snapshot, not
// simply the latest one.
type pageIndex struct {
	m *immutable.SortedMap[uint32, []indexEntry]
}

func newPageIndex() pageIndex {
	return pageIndex{m: &immutable.SortedMap[uint32, []indexEntry]{}}
}

// appendEntry records a new write to pageNo, returning the updated index.
// pageIndex is copy-on-write: callers must store the returned value.
func (idx pageIndex) appendEntry(pageNo uint32, e indexEntry) pageIndex {
	existing, _ := idx.m.Get(pageNo)
	next := make([]indexEntry, len(existing), len(existing)+1)
	copy(next, existing)
	next = append(next, e)
	return pageIndex{m: idx.m.Set(pageNo, next)}
}

// findAtOrBefore returns the highest-offset entry for pageNo whose FrameNo
// is <= maxFrameNo, if any.
func (idx pageIndex) findAtOrBefore(pageNo uint32, maxFrameNo uint64) (indexEntry, bool) {
	entries, ok := idx.m.Get(pageNo)
	if !ok {
		return indexEntry{}, false
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].FrameNo <= maxFrameNo {
			return entries[i], true
		}
	}
	return indexEntry{}, false
}

// latest returns the most recent entry recorded for pageNo, if any. Used by
// checkpoint, which always wants a sealed segment's final version of a page.
func (idx pageIndex) latest(pageNo uint32) (indexEntry, bool) {
	entries, ok := idx.m.Get(pageNo)
	if !ok || len(entries) == 0 {
		return indexEntry{}, false
	}
	return entries[len(entries)-1], true
}

// pageNumbers returns every page number with at least one entry. Order is
// unspecified; used only by checkpoint to enumerate what to drain.
func (idx pageIndex) pageNumbers() []uint32 {
	pages := make([]uint32, 0, idx.m.Len())
	it := idx.m.Iterator()
	for !it.Done() {
		pn, _, _ := it.Next()
		pages = append(pages, pn)
	}
	return pages
}
