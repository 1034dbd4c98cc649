package daemon

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// ServiceStats counts requests of one service and tracks their processing time.
type ServiceStats struct {
	mu        sync.Mutex
	received  int64
	succeeded int64
	failed    int64
	inFlight  int64
	latency   *hdrhistogram.Histogram // microseconds
}

// StatsSnapshot is a point-in-time copy of ServiceStats.
type StatsSnapshot struct {
	Service     string  `json:"service"`
	Worker      string  `json:"worker"`
	Concurrency int     `json:"concurrency"`
	Received    int64   `json:"received"`
	Succeeded   int64   `json:"succeeded"`
	Failed      int64   `json:"failed"`
	InFlight    int64   `json:"in_flight"`
	P50Ms       float64 `json:"p50_ms"`
	P95Ms       float64 `json:"p95_ms"`
	P99Ms       float64 `json:"p99_ms"`
	MaxMs       float64 `json:"max_ms"`
}

// NewServiceStats creates empty stats. Latencies up to one day are recorded
// with three significant digits.
func NewServiceStats() *ServiceStats {
	return &ServiceStats{
		latency: hdrhistogram.New(1, int64(24*time.Hour/time.Microsecond), 3),
	}
}

func (s *ServiceStats) requestReceived() {
	s.mu.Lock()
	s.received++
	s.inFlight++
	s.mu.Unlock()
}

func (s *ServiceStats) requestDone(elapsed time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	if ok {
		s.succeeded++
	} else {
		s.failed++
	}
	us := elapsed.Microseconds()
	if us < 1 {
		us = 1
	}
	_ = s.latency.RecordValue(us)
}

// Snapshot returns the current counters and latency percentiles.
func (s *ServiceStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := func(us int64) float64 { return float64(us) / 1000 }
	return StatsSnapshot{
		Received:  s.received,
		Succeeded: s.succeeded,
		Failed:    s.failed,
		InFlight:  s.inFlight,
		P50Ms:     ms(s.latency.ValueAtQuantile(50)),
		P95Ms:     ms(s.latency.ValueAtQuantile(95)),
		P99Ms:     ms(s.latency.ValueAtQuantile(99)),
		MaxMs:     ms(s.latency.Max()),
	}
}
