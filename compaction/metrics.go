package compaction

import (
	"sync/atomic"
	"time"
)

// Metrics tracks compactor-level counters using atomic operations for
// lock-free concurrency.
type Metrics struct {
	committed          atomic.Int64
	failed             atomic.Int64
	skipped            atomic.Int64
	backupBytes        atomic.Int64
	summarizeNanos     atomic.Int64
	summarizeCompleted atomic.Int64
}

// RecordCommit records a successful compaction commit.
func (m *Metrics) RecordCommit(backupBytes int) {
	m.committed.Add(1)
	m.backupBytes.Add(int64(backupBytes))
}

// RecordFailure records a failed compaction attempt.
func (m *Metrics) RecordFailure() {
	m.failed.Add(1)
}

// RecordSkip records a no-op compaction (empty log).
func (m *Metrics) RecordSkip() {
	m.skipped.Add(1)
}

// RecordSummarize records one completed summarizer call.
func (m *Metrics) RecordSummarize(latency time.Duration) {
	m.summarizeCompleted.Add(1)
	m.summarizeNanos.Add(int64(latency))
}

// Snapshot returns a consistent point-in-time view of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	completed := m.summarizeCompleted.Load()
	snap := MetricsSnapshot{
		Committed:   m.committed.Load(),
		Failed:      m.failed.Load(),
		Skipped:     m.skipped.Load(),
		BackupBytes: m.backupBytes.Load(),
	}
	if completed > 0 {
		snap.AvgSummarizeLatency = time.Duration(m.summarizeNanos.Load() / completed)
	}
	return snap
}

// MetricsSnapshot is a serializable point-in-time metrics view.
type MetricsSnapshot struct {
	Committed           int64         `json:"committed"`
	Failed              int64         `json:"failed"`
	Skipped             int64         `json:"skipped"`
	BackupBytes         int64         `json:"backup_bytes"`
	AvgSummarizeLatency time.Duration `json:"avg_summarize_latency_ns"`
}
