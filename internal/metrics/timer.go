package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// Timer measures one pipeline stage execution. Obtain with Store.Start and
// finish with Done, typically deferred so the call is recorded on every exit
// path:
//
//	func stage() (err error) {
//		t := store.Start(model.AgentSupport)
//		defer func() { t.Done(err) }()
//		...
//	}
type Timer struct {
	store     *Store
	agentType string
	started   time.Time
	finished  bool
}

// Start begins timing a stage for agentType.
func (s *Store) Start(agentType string) *Timer {
	return &Timer{store: s, agentType: agentType, started: time.Now()}
}

// Done records the elapsed wall-clock time as a call exactly once; repeat
// calls are no-ops. A non-nil err additionally records an error keyed by its
// kind.
func (t *Timer) Done(err error) float64 {
	elapsed := float64(time.Since(t.started).Microseconds()) / 1000.0
	if t.finished {
		return elapsed
	}
	t.finished = true

	t.store.RecordCall(t.agentType, elapsed)
	if err != nil {
		t.store.RecordError(t.agentType, model.ErrorKind(err))
	}
	return elapsed
}

func (s *Store) mirrorCall(agentType string, latencyMS float64) {
	attrs := otelmetric.WithAttributes(attribute.String("agent_type", agentType))
	s.callCount.Add(context.Background(), 1, attrs)
	s.latencyHist.Record(context.Background(), latencyMS, attrs)
}

func (s *Store) mirrorError(agentType, kind string) {
	s.errorCount.Add(context.Background(), 1, otelmetric.WithAttributes(
		attribute.String("agent_type", agentType),
		attribute.String("error_kind", kind),
	))
}
