package controller

import "sync"

// Sample is a min/max/mean/count aggregate over observations of one named
// latency or counter, as surfaced in a `metrics_updated` event snapshot.
type Sample struct {
	Count int64
	Min   float64
	Max   float64
	Sum   float64
}

// Mean returns the arithmetic mean of all observations, or 0 if none were
// recorded.
func (s Sample) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// Aggregator accumulates per-session metric samples in memory, independent
// of (and in addition to) the process-wide OpenTelemetry instruments a
// [*observe.Metrics] records. It backs the per-turn `metrics_updated`
// snapshot; OTel backs the Prometheus scrape.
type Aggregator struct {
	mu      sync.Mutex
	samples map[string]Sample

	turnCount  int64
	errorCount int64
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{samples: make(map[string]Sample)}
}

// Observe records one value under name.
func (a *Aggregator) Observe(name string, value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.samples[name]
	if !ok {
		s = Sample{Min: value, Max: value}
	}
	s.Count++
	s.Sum += value
	if value < s.Min {
		s.Min = value
	}
	if value > s.Max {
		s.Max = value
	}
	a.samples[name] = s
}

// IncrTurn records one completed turn.
func (a *Aggregator) IncrTurn() {
	a.mu.Lock()
	a.turnCount++
	a.mu.Unlock()
}

// IncrError records one error surfaced to the session.
func (a *Aggregator) IncrError() {
	a.mu.Lock()
	a.errorCount++
	a.mu.Unlock()
}

// Snapshot returns the full metrics view for a `metrics_updated` event:
// every named sample plus the turn/error counters, as a JSON-friendly map.
func (a *Aggregator) Snapshot() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	samples := make(map[string]any, len(a.samples))
	for name, s := range a.samples {
		samples[name] = map[string]any{
			"count": s.Count,
			"min":   s.Min,
			"max":   s.Max,
			"mean":  s.Mean(),
		}
	}
	return map[string]any{
		"samples":     samples,
		"turn_count":  a.turnCount,
		"error_count": a.errorCount,
	}
}
