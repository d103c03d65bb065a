// Package metrics aggregates per-stage pipeline performance in process
// memory: call counts, a bounded latency sample buffer, escalation and error
// counters, and the intent distribution. The store is the source of truth for
// the monitoring API; OTEL instruments mirror the same measurements for
// external collectors when an exporter is configured.
package metrics

import (
	"sync"
	"time"

	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/madoguchi/internal/telemetry"
)

// sampleCapacity bounds the latency buffer per agent type. Oldest samples are
// dropped first.
const sampleCapacity = 1000

// stageStats is the mutable per-agent-type state. Guarded by Store.mu.
type stageStats struct {
	calls       int64
	escalations int64
	errors      map[string]int64 // keyed by error kind

	// latency ring buffer: samples[head] is the next write slot; size grows
	// to sampleCapacity and stays there.
	samples [sampleCapacity]float64
	head    int
	size    int
}

func (s *stageStats) record(latencyMS float64) {
	s.calls++
	s.samples[s.head] = latencyMS
	s.head = (s.head + 1) % sampleCapacity
	if s.size < sampleCapacity {
		s.size++
	}
}

// Store aggregates pipeline metrics. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	stages  map[string]*stageStats
	intents map[string]int64

	latencyHist otelmetric.Float64Histogram
	callCount   otelmetric.Int64Counter
	errorCount  otelmetric.Int64Counter
}

// NewStore creates an empty metrics store and registers its OTEL mirror
// instruments (no-ops when no meter provider is configured).
func NewStore() *Store {
	meter := telemetry.Meter("madoguchi/metrics")
	hist, _ := meter.Float64Histogram("madoguchi.agent.latency",
		otelmetric.WithDescription("Per-stage wall clock latency (ms)"),
		otelmetric.WithUnit("ms"),
	)
	calls, _ := meter.Int64Counter("madoguchi.agent.calls",
		otelmetric.WithDescription("Per-stage call count"),
	)
	errs, _ := meter.Int64Counter("madoguchi.agent.errors",
		otelmetric.WithDescription("Per-stage error count"),
	)
	return &Store{
		stages:      make(map[string]*stageStats),
		intents:     make(map[string]int64),
		latencyHist: hist,
		callCount:   calls,
		errorCount:  errs,
	}
}

func (s *Store) stage(agentType string) *stageStats {
	st, ok := s.stages[agentType]
	if !ok {
		st = &stageStats{errors: make(map[string]int64)}
		s.stages[agentType] = st
	}
	return st
}

// RecordCall increments the call count for agentType and appends the latency
// sample, dropping the oldest once the buffer holds sampleCapacity entries.
func (s *Store) RecordCall(agentType string, latencyMS float64) {
	s.mu.Lock()
	s.stage(agentType).record(latencyMS)
	s.mu.Unlock()

	s.mirrorCall(agentType, latencyMS)
}

// RecordIntent increments the distribution counter for an intent label.
func (s *Store) RecordIntent(intent string) {
	s.mu.Lock()
	s.intents[intent]++
	s.mu.Unlock()
}

// RecordEscalation increments the escalation counter for agentType.
func (s *Store) RecordEscalation(agentType string) {
	s.mu.Lock()
	s.stage(agentType).escalations++
	s.mu.Unlock()
}

// RecordError increments the error counter for agentType keyed by kind.
func (s *Store) RecordError(agentType, kind string) {
	s.mu.Lock()
	s.stage(agentType).errors[kind]++
	s.mu.Unlock()

	s.mirrorError(agentType, kind)
}

// StageSnapshot is the aggregated view of one agent type.
type StageSnapshot struct {
	TotalCalls     int64            `json:"total_calls"`
	AvgLatencyMS   float64          `json:"avg_latency_ms"`
	MinLatencyMS   float64          `json:"min_latency_ms"`
	MaxLatencyMS   float64          `json:"max_latency_ms"`
	Escalations    int64            `json:"escalations"`
	EscalationRate float64          `json:"escalation_rate"`
	Errors         map[string]int64 `json:"errors,omitempty"`
}

// Snapshot is a point-in-time aggregate over all agent types.
type Snapshot struct {
	AgentPerformance   map[string]StageSnapshot `json:"agent_performance"`
	IntentDistribution map[string]int64         `json:"intent_distribution"`
	TotalCalls         int64                    `json:"total_calls"`
	TotalEscalations   int64                    `json:"total_escalations"`
	GeneratedAt        time.Time                `json:"generated_at"`
}

// Snapshot computes the aggregated view. Aggregates over the current latency
// buffer only; a snapshot with no intervening writes is identical to the
// previous one.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		AgentPerformance:   make(map[string]StageSnapshot, len(s.stages)),
		IntentDistribution: make(map[string]int64, len(s.intents)),
		GeneratedAt:        time.Now().UTC(),
	}

	for agentType, st := range s.stages {
		var sum, minL, maxL float64
		for i := 0; i < st.size; i++ {
			v := st.samples[i]
			sum += v
			if i == 0 || v < minL {
				minL = v
			}
			if v > maxL {
				maxL = v
			}
		}

		stage := StageSnapshot{
			TotalCalls:   st.calls,
			Escalations:  st.escalations,
			MinLatencyMS: minL,
			MaxLatencyMS: maxL,
		}
		if st.size > 0 {
			stage.AvgLatencyMS = sum / float64(st.size)
		}
		if st.calls > 0 {
			stage.EscalationRate = float64(st.escalations) / float64(st.calls)
		}
		if len(st.errors) > 0 {
			stage.Errors = make(map[string]int64, len(st.errors))
			for k, v := range st.errors {
				stage.Errors[k] = v
			}
		}

		snap.AgentPerformance[agentType] = stage
		snap.TotalCalls += st.calls
		snap.TotalEscalations += st.escalations
	}

	for intent, n := range s.intents {
		snap.IntentDistribution[intent] = n
	}

	return snap
}

// SampleCount returns the retained latency sample count for agentType.
func (s *Store) SampleCount(agentType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stages[agentType]
	if !ok {
		return 0
	}
	return st.size
}
