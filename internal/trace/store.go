// Package trace records per-request pipeline traces in process memory.
//
// Tracing is diagnostic and best-effort: span appends against unknown trace
// IDs are silent no-ops, and nothing in this package ever fails the pipeline
// that feeds it. Completed traces can optionally be archived to a local
// SQLite file as a durability backstop.
package trace

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// Store holds pipeline traces. Safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	traces    map[uuid.UUID]*model.Trace
	order     []uuid.UUID // insertion order, for retention eviction
	retention int

	archive *Archive // nil when archiving is disabled
}

// NewStore creates a trace store retaining at most retention traces.
// archive may be nil.
func NewStore(retention int, archive *Archive) *Store {
	if retention <= 0 {
		retention = 1000
	}
	return &Store{
		traces:    make(map[uuid.UUID]*model.Trace),
		retention: retention,
		archive:   archive,
	}
}

// Start allocates a new trace in status in_progress and returns its ID.
func (s *Store) Start(operation string, metadata map[string]any) uuid.UUID {
	id := uuid.New()
	if metadata == nil {
		metadata = map[string]any{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.traces[id] = &model.Trace{
		TraceID:   id,
		Operation: operation,
		StartTime: time.Now().UTC(),
		Spans:     []model.Span{},
		Metadata:  metadata,
		Status:    model.TraceInProgress,
	}
	s.order = append(s.order, id)
	s.evictLocked()

	return id
}

// AddSpan appends a span to the trace. No-op when traceID is unknown — the
// trace may have been evicted or never started; either way the pipeline
// continues.
func (s *Store) AddSpan(traceID uuid.UUID, name, agentType string, durationMS float64, metadata map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr, ok := s.traces[traceID]
	if !ok {
		return
	}
	tr.Spans = append(tr.Spans, model.Span{
		Name:       name,
		AgentType:  agentType,
		DurationMS: durationMS,
		Timestamp:  time.Now().UTC(),
		Metadata:   metadata,
	})
}

// Complete finalizes a trace with a terminal status. The first call wins;
// repeats and unknown IDs are no-ops. Completed traces are handed to the
// archive, if one is configured.
func (s *Store) Complete(traceID uuid.UUID, status model.TraceStatus, metadata map[string]any) {
	s.mu.Lock()
	tr, ok := s.traces[traceID]
	if !ok || tr.Status != model.TraceInProgress {
		s.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	tr.Status = status
	tr.EndTime = &now
	for k, v := range metadata {
		tr.Metadata[k] = v
	}
	snapshot := cloneTrace(tr)
	s.mu.Unlock()

	if s.archive != nil {
		s.archive.Enqueue(snapshot)
	}
}

// Get returns a copy of the trace, or model.ErrNotFound.
func (s *Store) Get(traceID uuid.UUID) (model.Trace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr, ok := s.traces[traceID]
	if !ok {
		return model.Trace{}, model.ErrNotFound
	}
	return cloneTrace(tr), nil
}

// Recent returns up to limit traces ordered by start time descending.
func (s *Store) Recent(limit int) []model.Trace {
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Trace, 0, len(s.traces))
	for _, tr := range s.traces {
		out = append(out, cloneTrace(tr))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Summary aggregates trace counts and the completion success rate.
func (s *Store) Summary() model.TraceSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := model.TraceSummary{Total: len(s.traces)}
	for _, tr := range s.traces {
		switch tr.Status {
		case model.TraceCompleted:
			sum.Completed++
		case model.TraceInProgress:
			sum.InProgress++
		case model.TraceFailed:
			sum.Failed++
		}
	}
	if sum.Total > 0 {
		sum.SuccessRate = float64(sum.Completed) / float64(sum.Total) * 100
	}
	return sum
}

// evictLocked drops the oldest finished traces once retention is exceeded.
// In-progress traces are skipped so an active pipeline never loses its trace
// mid-flight. Caller holds s.mu.
func (s *Store) evictLocked() {
	if len(s.traces) <= s.retention {
		return
	}

	kept := s.order[:0]
	excess := len(s.traces) - s.retention
	for _, id := range s.order {
		tr, ok := s.traces[id]
		if !ok {
			continue
		}
		if excess > 0 && tr.Status != model.TraceInProgress {
			delete(s.traces, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

func cloneTrace(tr *model.Trace) model.Trace {
	out := *tr
	out.Spans = make([]model.Span, len(tr.Spans))
	copy(out.Spans, tr.Spans)
	out.Metadata = make(map[string]any, len(tr.Metadata))
	for k, v := range tr.Metadata {
		out.Metadata[k] = v
	}
	return out
}
