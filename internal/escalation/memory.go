package escalation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// MemoryStore is an in-process Store. It serves tests and single-node
// deployments that run without Postgres; transitions serialize on one mutex
// so the compare-and-swap contract holds.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[uuid.UUID]model.EscalationRecord
	feedback []Feedback
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]model.EscalationRecord)}
}

func (s *MemoryStore) InsertEscalation(_ context.Context, rec model.EscalationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("escalation %s already exists", rec.ID)
	}
	s.records[rec.ID] = cloneRecord(rec)
	return nil
}

func (s *MemoryStore) FindEscalation(_ context.Context, id uuid.UUID) (model.EscalationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return model.EscalationRecord{}, model.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) FindEscalationsByStatus(_ context.Context, status model.EscalationStatus) ([]model.EscalationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.EscalationRecord
	for _, rec := range s.records {
		if rec.Status == status {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Transition(_ context.Context, id uuid.UUID, from []model.EscalationStatus, update Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return model.ErrNotFound
	}
	allowed := false
	for _, st := range from {
		if rec.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: escalation is %s", model.ErrInvalidState, rec.Status)
	}

	rec.Status = update.Status
	if update.HumanResponse != nil && rec.HumanResponse == nil {
		v := *update.HumanResponse
		rec.HumanResponse = &v
	}
	if update.ReviewedBy != nil && rec.ReviewedBy == nil {
		v := *update.ReviewedBy
		rec.ReviewedBy = &v
	}
	if update.Notes != nil {
		v := *update.Notes
		rec.Notes = &v
	}
	if update.ReviewedAt != nil {
		v := *update.ReviewedAt
		rec.ReviewedAt = &v
	}
	if update.ResolvedAt != nil {
		v := *update.ResolvedAt
		rec.ResolvedAt = &v
	}
	s.records[id] = rec
	return nil
}

func (s *MemoryStore) InsertFeedback(_ context.Context, fb Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = append(s.feedback, fb)
	return nil
}

func (s *MemoryStore) CountByStatus(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := Stats{ByStatus: make(map[model.EscalationStatus]int64)}
	for _, rec := range s.records {
		stats.ByStatus[rec.Status]++
		stats.Total++
	}
	return stats, nil
}

// FeedbackFor returns the recorded feedback rows for one escalation, in
// insertion order.
func (s *MemoryStore) FeedbackFor(id uuid.UUID) []Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Feedback
	for _, fb := range s.feedback {
		if fb.EscalationID == id {
			out = append(out, fb)
		}
	}
	return out
}

func cloneRecord(rec model.EscalationRecord) model.EscalationRecord {
	out := rec
	out.HumanResponse = clonePtr(rec.HumanResponse)
	out.ReviewedBy = clonePtr(rec.ReviewedBy)
	out.Notes = clonePtr(rec.Notes)
	out.ReviewedAt = clonePtr(rec.ReviewedAt)
	out.ResolvedAt = clonePtr(rec.ResolvedAt)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
