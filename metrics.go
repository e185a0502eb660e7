// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package pagewal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// walMetrics is the set of counters and gauges a SharedWal publishes: one
// struct of promauto-created collectors built once at construction.
type walMetrics struct {
	framesAppended      prometheus.Counter
	commits             prometheus.Counter
	busySnapshotRetries prometheus.Counter
	segmentSeals        prometheus.Counter
	checkpoints         prometheus.Counter
	pagesCheckpointed   prometheus.Counter
	framesRead          prometheus.Counter
	waiterQueueDepth    prometheus.Gauge
	checkpointedFrameNo prometheus.Gauge
}

func newWALMetrics(reg prometheus.Registerer) *walMetrics {
	return &walMetrics{
		framesAppended: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "frames_appended",
			Help: "frames_appended counts frames appended to the current segment," +
				" committed or not.",
		}),
		commits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "commits",
			Help: "commits counts write transactions that completed with a" +
				" size_after-bearing frame.",
		}),
		busySnapshotRetries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "busy_snapshot_retries",
			Help: "busy_snapshot_retries counts upgrade attempts that failed" +
				" because the snapshot had gone stale since begin_read.",
		}),
		segmentSeals: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "segment_seals",
			Help: "segment_seals counts how many times the current segment was" +
				" sealed and swapped for a fresh one.",
		}),
		checkpoints: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "checkpoints",
			Help: "checkpoints counts calls to Checkpoint that drained at least" +
				" one sealed segment into the base file.",
		}),
		pagesCheckpointed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pages_checkpointed",
			Help: "pages_checkpointed counts pages written back to the base" +
				" file during checkpoint.",
		}),
		framesRead: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "frames_read",
			Help: "frames_read counts calls to ReadFrame and ReadFrameForWrite.",
		}),
		waiterQueueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "waiter_queue_depth",
			Help: "waiter_queue_depth is the number of connections currently" +
				" parked waiting for the write slot.",
		}),
		checkpointedFrameNo: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "checkpointed_frame_no",
			Help: "checkpointed_frame_no is the highest frame number durably" +
				" applied to the base file.",
		}),
	}
}
