// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package txn

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dreamsxin/pagewal/frame"
	"github.com/dreamsxin/pagewal/ioutil"
	"github.com/dreamsxin/pagewal/segment"
)

func newReadTransaction(t *testing.T) *ReadTransaction {
	t.Helper()
	f, err := ioutil.OpenFile(filepath.Join(t.TempDir(), "cur.seg"), 0o600)
	require.NoError(t, err)
	cur, err := segment.New(f, uuid.New(), 1, 0)
	require.NoError(t, err)
	cur.IncReaderCount()
	return &ReadTransaction{ID: 1, Current: cur}
}

func TestNewSeedsFirstSavepointFromCursor(t *testing.T) {
	rt := newReadTransaction(t)
	wt := New(*rt)
	require.Len(t, wt.Savepoints, 1)
	require.Equal(t, rt.Current.NextOffset(), wt.Savepoints[0].NextOffset)
}

func TestRecordWritesAndDeltaOrdering(t *testing.T) {
	rt := newReadTransaction(t)
	wt := New(*rt)

	wt.RecordWrites([]frame.WriteRecord{{PageNo: 1, FrameNo: 1, Offset: 0}})
	sp1 := wt.PushSavepoint()
	wt.RecordWrites([]frame.WriteRecord{{PageNo: 1, FrameNo: 2, Offset: 1}})

	newest := wt.DeltasNewestFirst()
	require.Equal(t, uint32(1), newest[0][1]) // savepoint 1's write, offset 1
	require.Equal(t, uint32(0), newest[1][1]) // savepoint 0's write, offset 0

	oldest := wt.DeltasOldestFirst()
	require.Equal(t, uint32(0), oldest[0][1])
	require.Equal(t, uint32(1), oldest[1][1])

	require.Equal(t, 1, sp1)
}

func TestRollbackToClearsTargetAndLaterSavepoints(t *testing.T) {
	rt := newReadTransaction(t)
	wt := New(*rt)
	wt.RecordWrites([]frame.WriteRecord{{PageNo: 1, FrameNo: 1, Offset: 0}})

	sp1 := wt.PushSavepoint()
	wt.RecordWrites([]frame.WriteRecord{{PageNo: 2, FrameNo: 2, Offset: 1}})
	wt.PushSavepoint()
	wt.RecordWrites([]frame.WriteRecord{{PageNo: 3, FrameNo: 3, Offset: 2}})

	target := wt.RollbackTo(sp1)
	require.Len(t, wt.Savepoints, sp1+1)
	require.Empty(t, target.Index)
}

func TestCommitSetsFlag(t *testing.T) {
	rt := newReadTransaction(t)
	wt := New(*rt)
	require.False(t, wt.IsCommitted)
	wt.Commit()
	require.True(t, wt.IsCommitted)
}
