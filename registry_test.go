// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package pagewal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamsxin/pagewal/frame"
)

func TestRegistryOpenIsIdempotentPerNamespace(t *testing.T) {
	reg, err := OpenRegistry(t.TempDir(), nil)
	require.NoError(t, err)
	defer reg.Close()

	w1, err := reg.Open(filepath.Join("/data", "alpha.db"))
	require.NoError(t, err)
	w2, err := reg.Open(filepath.Join("/other", "alpha.db"))
	require.NoError(t, err)
	require.Same(t, w1, w2, "same namespace must resolve to the same coordinator")

	w3, err := reg.Open(filepath.Join("/data", "beta.db"))
	require.NoError(t, err)
	require.NotSame(t, w1, w3)
}

func TestRegistryRecoversSealedSegmentsAcrossRestart(t *testing.T) {
	base := t.TempDir()

	reg, err := OpenRegistry(base, nil, WithSegmentThreshold(1))
	require.NoError(t, err)

	w, err := reg.Open("app.db")
	require.NoError(t, err)

	rt := w.BeginRead(1)
	wt, err := w.Upgrade(context.Background(), rt)
	require.NoError(t, err)
	require.NoError(t, w.InsertFrames(wt, []frame.PageWrite{{PageNo: 2, Data: page(11)}}, true, 2))
	require.NoError(t, w.EndWrite(wt))
	require.Equal(t, 1, w.Stats().SealedSegments)

	require.NoError(t, reg.Close())

	reg2, err := OpenRegistry(base, nil, WithSegmentThreshold(1))
	require.NoError(t, err)
	defer reg2.Close()

	w2, err := reg2.Open("app.db")
	require.NoError(t, err)
	require.Equal(t, 1, w2.Stats().SealedSegments)

	rt2 := w2.BeginRead(2)
	buf := make([]byte, frame.PageSize)
	require.NoError(t, w2.ReadFrame(rt2, 2, buf))
	require.Equal(t, page(11), buf)
	w2.EndRead(rt2)
}

func TestRegistryRecoversPartialCurrentSegmentAcrossRestart(t *testing.T) {
	base := t.TempDir()

	// No WithSegmentThreshold(1) here: the whole point is to restart with a
	// current segment that committed frames but never sealed, the normal
	// case since sealing only happens once a segment crosses the size
	// threshold.
	reg, err := OpenRegistry(base, nil)
	require.NoError(t, err)

	w, err := reg.Open("app.db")
	require.NoError(t, err)

	rt := w.BeginRead(1)
	wt, err := w.Upgrade(context.Background(), rt)
	require.NoError(t, err)
	require.NoError(t, w.InsertFrames(wt, []frame.PageWrite{{PageNo: 2, Data: page(7)}}, true, 2))
	require.NoError(t, w.EndWrite(wt))
	require.Equal(t, 0, w.Stats().SealedSegments, "commit below the threshold must not seal")

	require.NoError(t, reg.Close())

	reg2, err := OpenRegistry(base, nil)
	require.NoError(t, err)
	defer reg2.Close()

	w2, err := reg2.Open("app.db")
	require.NoError(t, err)
	require.Equal(t, 0, w2.Stats().SealedSegments)
	require.Equal(t, uint64(1), w2.Stats().LastCommittedFrameNo,
		"the committed-but-unsealed frame must survive the restart")

	rt2 := w2.BeginRead(2)
	buf := make([]byte, frame.PageSize)
	require.NoError(t, w2.ReadFrame(rt2, 2, buf))
	require.Equal(t, page(7), buf)
	w2.EndRead(rt2)

	// The recovered segment must still be appendable.
	rt3 := w2.BeginRead(2)
	wt2, err := w2.Upgrade(context.Background(), rt3)
	require.NoError(t, err)
	require.NoError(t, w2.InsertFrames(wt2, []frame.PageWrite{{PageNo: 3, Data: page(9)}}, true, 3))
	require.NoError(t, w2.EndWrite(wt2))
	require.Equal(t, uint64(2), w2.Stats().LastCommittedFrameNo)
}

func TestRegistryCheckpointPersistsWatermark(t *testing.T) {
	base := t.TempDir()

	reg, err := OpenRegistry(base, nil, WithSegmentThreshold(1))
	require.NoError(t, err)

	w, err := reg.Open("app.db")
	require.NoError(t, err)
	rt := w.BeginRead(1)
	wt, err := w.Upgrade(context.Background(), rt)
	require.NoError(t, err)
	require.NoError(t, w.InsertFrames(wt, []frame.PageWrite{{PageNo: 2, Data: page(3)}}, true, 2))
	require.NoError(t, w.EndWrite(wt))

	_, err = reg.Checkpoint("never-opened")
	require.Error(t, err, "checkpointing a namespace with no open coordinator must fail, not silently no-op")

	ns, err := DefaultNamespaceResolver("app.db")
	require.NoError(t, err)
	highest, err := reg.Checkpoint(ns)
	require.NoError(t, err)
	require.Equal(t, uint64(1), highest)

	require.NoError(t, reg.Close())

	reg2, err := OpenRegistry(base, nil, WithSegmentThreshold(1))
	require.NoError(t, err)
	defer reg2.Close()

	w2, err := reg2.Open("app.db")
	require.NoError(t, err)
	require.Equal(t, uint64(1), w2.Stats().CheckpointedFrameNo)
}
