package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/madoguchi/internal/agents"
	"github.com/ashita-ai/madoguchi/internal/escalation"
	"github.com/ashita-ai/madoguchi/internal/metrics"
	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/trace"
)

type stubClassifier struct {
	intent string
	err    error
	calls  int
}

func (s *stubClassifier) Classify(context.Context, string) (string, error) {
	s.calls++
	if s.err != nil {
		return model.IntentOther, s.err
	}
	return s.intent, nil
}

type stubResponder struct {
	reply       agents.Reply
	err         error
	calls       int
	lastHistory []model.ConversationTurn
}

func (s *stubResponder) Generate(_ context.Context, _, _ string, history []model.ConversationTurn) (agents.Reply, error) {
	s.calls++
	s.lastHistory = history
	if s.err != nil {
		return agents.Reply{}, s.err
	}
	return s.reply, nil
}

type stubHistory struct {
	turns     []model.ConversationTurn
	inserted  []model.ConversationTurn
	recentErr error
	insertErr error
}

func (s *stubHistory) InsertTurn(_ context.Context, turn model.ConversationTurn) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, turn)
	return nil
}

func (s *stubHistory) RecentTurns(context.Context, string, int) ([]model.ConversationTurn, error) {
	if s.recentErr != nil {
		return nil, s.recentErr
	}
	return s.turns, nil
}

type fixture struct {
	orch       *Orchestrator
	classifier *stubClassifier
	responder  *stubResponder
	history    *stubHistory
	store      *escalation.MemoryStore
	metrics    *metrics.Store
	traces     *trace.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	f := &fixture{
		classifier: &stubClassifier{intent: model.IntentQuestion},
		responder:  &stubResponder{reply: agents.Reply{Text: "Here is your answer."}},
		history:    &stubHistory{},
		store:      escalation.NewMemoryStore(),
		metrics:    metrics.NewStore(),
		traces:     trace.NewStore(100, nil),
	}
	registry := escalation.NewRegistry(f.store, logger)
	f.orch = New(f.classifier, f.responder, registry, f.history, f.metrics, f.traces,
		Config{
			ClassifyTimeout: time.Second,
			GenerateTimeout: time.Second,
			HistoryLimit:    5,
		}, logger)
	return f
}

func TestProcessHappyPath(t *testing.T) {
	f := newFixture(t)

	result := f.orch.Process(context.Background(), "user-1", "How do I reset my password?")

	assert.Equal(t, "Here is your answer.", result.Response)
	assert.Equal(t, model.IntentQuestion, result.Intent)
	assert.Equal(t, model.AgentSupport, result.AgentType)
	assert.False(t, result.Escalated)
	assert.Nil(t, result.EscalationID)

	tr, err := f.traces.Get(result.TraceID)
	require.NoError(t, err)
	assert.Equal(t, model.TraceCompleted, tr.Status)
	names := make([]string, 0, len(tr.Spans))
	for _, sp := range tr.Spans {
		names = append(names, sp.Name)
	}
	assert.Equal(t, []string{"guardrail_check", "intent_classification", "response_generation", "escalation_decision"}, names)

	// The turn was persisted with pipeline metadata.
	require.Len(t, f.history.inserted, 1)
	assert.Equal(t, model.IntentQuestion, f.history.inserted[0].Metadata["intent"])
}

func TestProcessBlockedMessage(t *testing.T) {
	f := newFixture(t)

	result := f.orch.Process(context.Background(), "user-1", "how to hack into an account")

	assert.Equal(t, model.IntentBlocked, result.Intent)
	assert.Equal(t, model.AgentGuardrail, result.AgentType)
	assert.False(t, result.Escalated)
	assert.True(t, strings.HasPrefix(result.Response, refusalPrefix))

	// No upstream calls were made.
	assert.Zero(t, f.classifier.calls)
	assert.Zero(t, f.responder.calls)

	tr, err := f.traces.Get(result.TraceID)
	require.NoError(t, err)
	assert.Equal(t, model.TraceCompleted, tr.Status)
	require.Len(t, tr.Spans, 1)
	assert.Equal(t, "guardrail_check", tr.Spans[0].Name)
}

func TestProcessSensitiveIntentEscalates(t *testing.T) {
	f := newFixture(t)
	f.classifier.intent = model.IntentRefund

	result := f.orch.Process(context.Background(), "user-1", "I want my money back")

	assert.True(t, result.Escalated)
	require.NotNil(t, result.EscalationID)
	assert.Equal(t, model.AgentEscalation, result.AgentType)

	pending, err := f.store.FindEscalationsByStatus(context.Background(), model.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, *result.EscalationID, pending[0].ID)
	assert.Equal(t, "I want my money back", pending[0].UserMessage)
	assert.Contains(t, pending[0].Reason, model.IntentRefund)
}

func TestProcessGeneratorFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	f.responder.err = errors.New("upstream exploded")

	result := f.orch.Process(context.Background(), "user-1", "hello there")

	assert.Equal(t, agents.FallbackReply, result.Response)
	assert.True(t, result.Escalated)
	require.NotNil(t, result.EscalationID)

	tr, err := f.traces.Get(result.TraceID)
	require.NoError(t, err)
	assert.Equal(t, model.TraceFailed, tr.Status)

	// The audit reason names the failure, not a property of the fallback text.
	pending, err := f.store.FindEscalationsByStatus(context.Background(), model.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Contains(t, pending[0].Reason, "response generation failed")
}

func TestProcessClassifierFailureDegrades(t *testing.T) {
	f := newFixture(t)
	f.classifier.err = errors.New("classifier down")
	f.classifier.intent = ""

	result := f.orch.Process(context.Background(), "user-1", "hello there")

	assert.Equal(t, model.IntentOther, result.Intent)
	assert.Equal(t, "Here is your answer.", result.Response)
	assert.False(t, result.Escalated)
}

func TestProcessSelfFlaggedReplyEscalates(t *testing.T) {
	f := newFixture(t)
	f.classifier.intent = model.IntentGreeting
	f.responder.reply = agents.Reply{Text: "A human will take over.", SelfFlagged: true}

	result := f.orch.Process(context.Background(), "user-1", "hi")

	assert.True(t, result.Escalated)
	require.NotNil(t, result.EscalationID)
}

func TestProcessHistoryWindowIsChronological(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	// Newest first, as the store returns them.
	f.history.turns = []model.ConversationTurn{
		{Message: "third", CreatedAt: now},
		{Message: "second", CreatedAt: now.Add(-time.Minute)},
		{Message: "first", CreatedAt: now.Add(-2 * time.Minute)},
	}

	f.orch.Process(context.Background(), "user-1", "anything else?")

	require.Len(t, f.responder.lastHistory, 3)
	assert.Equal(t, "first", f.responder.lastHistory[0].Message)
	assert.Equal(t, "third", f.responder.lastHistory[2].Message)
}

func TestProcessHistoryFailureDegrades(t *testing.T) {
	f := newFixture(t)
	f.history.recentErr = errors.New("db down")
	f.history.insertErr = errors.New("db down")

	result := f.orch.Process(context.Background(), "user-1", "hello")

	assert.Equal(t, "Here is your answer.", result.Response)
	assert.Empty(t, f.responder.lastHistory)
}

func TestProcessRecordsStageMetrics(t *testing.T) {
	f := newFixture(t)

	f.orch.Process(context.Background(), "user-1", "hello")
	f.orch.Process(context.Background(), "user-2", "how to hack a password")

	snap := f.metrics.Snapshot()
	assert.EqualValues(t, 2, snap.AgentPerformance[model.AgentGuardrail].TotalCalls)
	assert.EqualValues(t, 1, snap.AgentPerformance[model.AgentIntent].TotalCalls)
	assert.EqualValues(t, 1, snap.AgentPerformance[model.AgentSupport].TotalCalls)
	assert.EqualValues(t, 1, snap.IntentDistribution[model.IntentQuestion])
	assert.EqualValues(t, 1, snap.IntentDistribution[model.IntentBlocked])
}
