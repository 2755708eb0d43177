package contingency

import (
	"sync/atomic"
	"time"
)

// Metrics contadores del motor (seguros para lectura concurrente desde HTTP).
type Metrics struct {
	runs           atomic.Int64
	synced         atomic.Int64
	requeued       atomic.Int64
	failed         atomic.Int64
	skipped        atomic.Int64
	orphans        atomic.Int64
	lastLatencyMs  atomic.Int64
	totalLatencyMs atomic.Int64
	lastRunAt      atomic.Int64 // unix nano; 0 = nunca
}

// MetricsSnapshot copia inmutable de los contadores.
type MetricsSnapshot struct {
	Runs          int64
	Synced        int64
	Requeued      int64
	Failed        int64
	Skipped       int64
	Orphans       int64
	LastLatencyMs int64
	AvgLatencyMs  int64
	LastRunAt     *time.Time
}

func (m *Metrics) recordResult(r RunResult, at time.Time) {
	m.runs.Add(1)
	m.synced.Add(int64(r.Synced))
	m.requeued.Add(int64(r.Requeued))
	m.failed.Add(int64(r.Failed))
	m.skipped.Add(int64(r.Skipped))
	m.orphans.Add(int64(r.Orphans))
	m.lastRunAt.Store(at.UnixNano())
}

// recordLatency tiempo desde el encolado hasta la sincronización exitosa.
func (m *Metrics) recordLatency(d time.Duration) {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	m.lastLatencyMs.Store(ms)
	m.totalLatencyMs.Add(ms)
}

// Snapshot lee los contadores.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Runs:          m.runs.Load(),
		Synced:        m.synced.Load(),
		Requeued:      m.requeued.Load(),
		Failed:        m.failed.Load(),
		Skipped:       m.skipped.Load(),
		Orphans:       m.orphans.Load(),
		LastLatencyMs: m.lastLatencyMs.Load(),
	}
	if s.Synced > 0 {
		s.AvgLatencyMs = m.totalLatencyMs.Load() / s.Synced
	}
	if ns := m.lastRunAt.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		s.LastRunAt = &t
	}
	return s
}
