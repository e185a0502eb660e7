// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/benmathews/bench"
	hdrhistogramwriter "github.com/benmathews/hdrhistogram-writer"
	"github.com/stretchr/testify/require"

	pagewal "github.com/dreamsxin/pagewal"
	"github.com/dreamsxin/pagewal/frame"
)

// insertRequester drives repeated single-page write transactions against
// one SharedWal, recording each InsertFrames+EndWrite round trip.
type insertRequester struct {
	w      *pagewal.SharedWal
	connID uint64
	pageNo uint32
	data   []byte
}

func (r *insertRequester) Setup() error   { return nil }
func (r *insertRequester) Teardown() error { return nil }

func (r *insertRequester) Request() error {
	r.connID++
	rt := r.w.BeginRead(r.connID)
	wt, err := r.w.Upgrade(context.Background(), rt)
	if err != nil {
		r.w.EndRead(rt)
		return err
	}
	pages := []frame.PageWrite{{PageNo: r.pageNo, Data: r.data}}
	if err := r.w.InsertFrames(wt, pages, true, r.pageNo); err != nil {
		return err
	}
	return r.w.EndWrite(wt)
}

type insertRequesterFactory struct {
	w *pagewal.SharedWal
}

func (f *insertRequesterFactory) GetRequester(uint64) bench.Requester {
	return &insertRequester{
		w:      f.w,
		pageNo: 2,
		data:   make([]byte, frame.PageSize),
	}
}

// BenchmarkInsertFrames profiles how many committed single-page write
// transactions a SharedWal can sustain per second, with per-request
// latency recorded into an HDR histogram and dumped as a distribution
// report for offline comparison across runs.
func BenchmarkInsertFrames(b *testing.B) {
	reg, done := openRegistry(b)
	defer done()

	w, err := reg.Open("bench.db")
	require.NoError(b, err)

	hist := hdrhistogram.New(1, int64(10*time.Second), 3)
	summary := bench.NewBenchmark(
		&insertRequesterFactory{w: w},
		bench.Rate{Limit: 0},
		uint64(b.N),
		8,
	).Run()

	for _, l := range summary.RequestLatencies() {
		_ = hist.RecordValue(int64(l))
	}

	reportPath := fmt.Sprintf("insert_frames_%d.hgrm", b.N)
	percentiles := []float64{50, 90, 99, 99.9, 100}
	if err := hdrhistogramwriter.WriteDistributionFile(hist, &percentiles, 1000.0, reportPath); err != nil {
		b.Logf("could not write histogram report: %v", err)
	}
}

func openRegistry(b *testing.B) (*pagewal.Registry, func()) {
	tmpDir, err := os.MkdirTemp("", "pagewal-bench-*")
	require.NoError(b, err)

	reg, err := pagewal.OpenRegistry(tmpDir, pagewal.DefaultNamespaceResolver)
	require.NoError(b, err)

	return reg, func() {
		reg.Close()
		os.RemoveAll(tmpDir)
	}
}
