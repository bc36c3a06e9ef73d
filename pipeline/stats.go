package pipeline

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"go.uber.org/atomic"

	"github.com/Tutortoise/face-overlay/models"
)

// DefaultStatsWindow is the number of recent cycles kept for latency figures.
const DefaultStatsWindow = 256

// Stats collects loop counters. It is written by the loop goroutine and may be
// read concurrently by the monitor.
type Stats struct {
	cycles     atomic.Int64
	detections atomic.Int64
	failures   atomic.Int64
	lastBoxes  atomic.Int32

	mu      sync.Mutex
	latency []float64 // milliseconds, ring buffer
	next    int
	filled  bool
	last    models.ProcessingTimings
}

type StatsSnapshot struct {
	Cycles     int64   `json:"cycles"`
	Detections int64   `json:"detections"`
	Failures   int64   `json:"failures"`
	LastBoxes  int32   `json:"last_boxes"`
	P50Ms      float64 `json:"latency_p50_ms"`
	P95Ms      float64 `json:"latency_p95_ms"`
	MaxMs      float64 `json:"latency_max_ms"`

	LastCapture     time.Duration `json:"last_capture_ns"`
	LastInference   time.Duration `json:"last_inference_ns"`
	LastPostprocess time.Duration `json:"last_postprocess_ns"`
}

func NewStats(window int) *Stats {
	if window <= 0 {
		window = DefaultStatsWindow
	}
	return &Stats{latency: make([]float64, window)}
}

func (s *Stats) Record(t models.ProcessingTimings, boxes int) {
	s.cycles.Inc()
	s.detections.Add(int64(boxes))
	s.lastBoxes.Store(int32(boxes))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency[s.next] = float64(t.Total) / float64(time.Millisecond)
	s.next++
	if s.next == len(s.latency) {
		s.next = 0
		s.filled = true
	}
	s.last = t
}

func (s *Stats) RecordFailure() {
	s.failures.Inc()
}

func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Cycles:     s.cycles.Load(),
		Detections: s.detections.Load(),
		Failures:   s.failures.Load(),
		LastBoxes:  s.lastBoxes.Load(),
	}

	s.mu.Lock()
	window := s.latency[:s.next]
	if s.filled {
		window = s.latency
	}
	data := append(stats.Float64Data(nil), window...)
	snap.LastCapture = s.last.Capture
	snap.LastInference = s.last.Inference
	snap.LastPostprocess = s.last.Postprocess
	s.mu.Unlock()

	if len(data) == 0 {
		return snap
	}
	// Errors only occur on empty input, checked above.
	snap.P50Ms, _ = stats.Percentile(data, 50)
	snap.P95Ms, _ = stats.Percentile(data, 95)
	snap.MaxMs, _ = stats.Max(data)
	return snap
}
