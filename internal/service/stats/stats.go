// Package stats aggregates the node's counters and gauges. The same
// collector feeds the Stats RPC snapshot and the Prometheus registry
// exposed on the admin listener.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// recentWindow is the width of the "notes per recent window" figure.
const recentWindow = 60 * time.Second

type (
	// Collector is safe for concurrent use.
	Collector struct {
		registry *prometheus.Registry

		ingestRequests atomic.Uint64
		fetchRequests  atomic.Uint64
		notesIngested  atomic.Uint64
		overflow       atomic.Uint64
		activeSubs     atomic.Int64
		lastSweepMS    atomic.Int64
		lastSweepCount atomic.Uint64
		sweptTotal     atomic.Uint64

		mu      sync.Mutex
		buckets [60]bucket // one per second of the recent window

		promSendNoteRequests  *prometheus.CounterVec
		promFetchRequests     *prometheus.CounterVec
		promSendNoteDuration  prometheus.Histogram
		promFetchDuration     prometheus.Histogram
		promNoteSize          prometheus.Histogram
		promNotesIngested     prometheus.Counter
		promOverflow          prometheus.Counter
		promActiveSubs        prometheus.Gauge
		promSwept             prometheus.Counter
		promLastSweepUnixMS   prometheus.Gauge
		promFetchRepliedNotes prometheus.Histogram
	}

	bucket struct {
		second int64
		count  uint64
	}

	// Snapshot is the point-in-time view served by the Stats RPC and
	// the admin /stats endpoint. Store-derived totals are filled in by
	// the caller.
	Snapshot struct {
		IngestRequests      uint64 `json:"ingest_requests"`
		FetchRequests       uint64 `json:"fetch_requests"`
		NotesIngested       uint64 `json:"notes_ingested"`
		NotesRecent         uint64 `json:"notes_recent"`
		ActiveSubscriptions uint64 `json:"active_subscriptions"`
		OverflowCount       uint64 `json:"overflow_count"`
		LastSweepMS         int64  `json:"last_sweep_ms"`
		LastSweepCount      uint64 `json:"last_sweep_count"`
		SweptTotal          uint64 `json:"swept_total"`
	}
)

func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.promSendNoteRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "note_transport_send_note_requests_total",
		Help: "Total SendNote requests by status.",
	}, []string{"status"})
	c.promFetchRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "note_transport_fetch_notes_requests_total",
		Help: "Total FetchNotes requests by status.",
	}, []string{"status"})
	c.promSendNoteDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "note_transport_send_note_duration_seconds",
		Help:    "Duration of SendNote requests.",
		Buckets: prometheus.DefBuckets,
	})
	c.promFetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "note_transport_fetch_notes_duration_seconds",
		Help:    "Duration of FetchNotes requests.",
		Buckets: prometheus.DefBuckets,
	})
	c.promNoteSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "note_transport_note_size_bytes",
		Help:    "Size of ingested notes (header plus details).",
		Buckets: prometheus.ExponentialBuckets(64, 4, 8),
	})
	c.promFetchRepliedNotes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "note_transport_fetch_notes_replied",
		Help:    "Notes replied per FetchNotes request.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
	c.promNotesIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "note_transport_notes_ingested_total",
		Help: "Total notes accepted for storage.",
	})
	c.promOverflow = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "note_transport_subscriber_overflow_total",
		Help: "Notes dropped from subscriber queues.",
	})
	c.promActiveSubs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "note_transport_active_subscriptions",
		Help: "Currently registered stream subscriptions.",
	})
	c.promSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "note_transport_scavenger_swept_total",
		Help: "Notes removed by the retention scavenger.",
	})
	c.promLastSweepUnixMS = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "note_transport_scavenger_last_sweep_timestamp_ms",
		Help: "Unix timestamp of the last completed sweep in milliseconds.",
	})

	c.registry.MustRegister(
		c.promSendNoteRequests, c.promFetchRequests,
		c.promSendNoteDuration, c.promFetchDuration,
		c.promNoteSize, c.promFetchRepliedNotes,
		c.promNotesIngested, c.promOverflow, c.promActiveSubs,
		c.promSwept, c.promLastSweepUnixMS,
	)
	return c
}

// Registry exposes the collector's Prometheus registry for the admin
// /metrics handler and telemetry push.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) RecordSendNote(status string, d time.Duration) {
	c.ingestRequests.Add(1)
	c.promSendNoteRequests.WithLabelValues(status).Inc()
	c.promSendNoteDuration.Observe(d.Seconds())
}

func (c *Collector) RecordFetch(status string, d time.Duration, replied int) {
	c.fetchRequests.Add(1)
	c.promFetchRequests.WithLabelValues(status).Inc()
	c.promFetchDuration.Observe(d.Seconds())
	if replied > 0 {
		c.promFetchRepliedNotes.Observe(float64(replied))
	}
}

// RecordIngested counts a note accepted for storage.
func (c *Collector) RecordIngested(sizeBytes int) {
	c.notesIngested.Add(1)
	c.promNotesIngested.Inc()
	c.promNoteSize.Observe(float64(sizeBytes))

	now := time.Now().Unix()
	c.mu.Lock()
	b := &c.buckets[now%int64(len(c.buckets))]
	if b.second != now {
		b.second = now
		b.count = 0
	}
	b.count++
	c.mu.Unlock()
}

func (c *Collector) AddOverflow(n int) {
	c.overflow.Add(uint64(n))
	c.promOverflow.Add(float64(n))
}

func (c *Collector) SubscriberAdded() {
	c.activeSubs.Add(1)
	c.promActiveSubs.Inc()
}

func (c *Collector) SubscriberRemoved() {
	c.activeSubs.Add(-1)
	c.promActiveSubs.Dec()
}

// RecordSweep notes a completed scavenger pass.
func (c *Collector) RecordSweep(deleted int64, at time.Time) {
	c.lastSweepMS.Store(at.UnixMilli())
	c.lastSweepCount.Store(uint64(deleted))
	c.sweptTotal.Add(uint64(deleted))
	c.promSwept.Add(float64(deleted))
	c.promLastSweepUnixMS.Set(float64(at.UnixMilli()))
}

// SeedSweep restores sweep figures persisted across restarts.
func (c *Collector) SeedSweep(lastMS int64, lastCount uint64) {
	c.lastSweepMS.Store(lastMS)
	c.lastSweepCount.Store(lastCount)
	if lastMS > 0 {
		c.promLastSweepUnixMS.Set(float64(lastMS))
	}
}

func (c *Collector) Snapshot() Snapshot {
	now := time.Now().Unix()
	var recent uint64
	c.mu.Lock()
	for _, b := range c.buckets {
		if now-b.second < int64(recentWindow/time.Second) {
			recent += b.count
		}
	}
	c.mu.Unlock()

	subs := c.activeSubs.Load()
	if subs < 0 {
		subs = 0
	}
	return Snapshot{
		IngestRequests:      c.ingestRequests.Load(),
		FetchRequests:       c.fetchRequests.Load(),
		NotesIngested:       c.notesIngested.Load(),
		NotesRecent:         recent,
		ActiveSubscriptions: uint64(subs),
		OverflowCount:       c.overflow.Load(),
		LastSweepMS:         c.lastSweepMS.Load(),
		LastSweepCount:      c.lastSweepCount.Load(),
		SweptTotal:          c.sweptTotal.Load(),
	}
}
