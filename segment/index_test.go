// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package segment

import (
	"math/rand"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"
)

// TestFindAtOrBeforeMatchesLinearScan fuzzes random write histories for a
// single page and checks findAtOrBefore against a naive linear scan, for
// 20 random snapshot frame numbers per history, each equal to or one away
// from a frame number that appears in it.
func TestFindAtOrBeforeMatchesLinearScan(t *testing.T) {
	f := fuzz.NewWithSeed(1).NilChance(0).NumElements(1, 40)

	for trial := 0; trial < 200; trial++ {
		var frameNos []uint64
		f.Fuzz(&frameNos)

		// Build a strictly increasing frame number sequence and matching
		// offsets, the way CurrentSegment hands them out in practice.
		idx := newPageIndex()
		var entries []indexEntry
		frameNo := uint64(0)
		for i, delta := range frameNos {
			frameNo += (delta % 5) + 1
			e := indexEntry{FrameNo: frameNo, Offset: uint32(i)}
			idx = idx.appendEntry(1, e)
			entries = append(entries, e)
		}

		for i := 0; i < 20; i++ {
			maxFrameNo := entries[rand.Intn(len(entries))].FrameNo + uint64(rand.Intn(3)) - 1

			var want indexEntry
			wantOK := false
			for _, e := range entries {
				if e.FrameNo <= maxFrameNo && (!wantOK || e.FrameNo > want.FrameNo) {
					want = e
					wantOK = true
				}
			}

			got, gotOK := idx.findAtOrBefore(1, maxFrameNo)
			require.Equal(t, wantOK, gotOK)
			if wantOK {
				require.Equal(t, want, got)
			}
		}
	}
}

func TestLatestIsLastAppendedEntry(t *testing.T) {
	idx := newPageIndex()
	idx = idx.appendEntry(1, indexEntry{FrameNo: 1, Offset: 0})
	idx = idx.appendEntry(1, indexEntry{FrameNo: 5, Offset: 1})
	idx = idx.appendEntry(1, indexEntry{FrameNo: 9, Offset: 2})

	got, ok := idx.latest(1)
	require.True(t, ok)
	require.Equal(t, indexEntry{FrameNo: 9, Offset: 2}, got)
}

func TestAppendEntryDoesNotMutateSharedHistory(t *testing.T) {
	base := newPageIndex()
	base = base.appendEntry(1, indexEntry{FrameNo: 1, Offset: 0})

	branchA := base.appendEntry(1, indexEntry{FrameNo: 2, Offset: 1})
	branchB := base.appendEntry(1, indexEntry{FrameNo: 3, Offset: 2})

	entriesA, _ := branchA.m.Get(uint32(1))
	entriesB, _ := branchB.m.Get(uint32(1))
	require.Len(t, entriesA, 2)
	require.Len(t, entriesB, 2)
	require.NotEqual(t, entriesA[1], entriesB[1])
}
