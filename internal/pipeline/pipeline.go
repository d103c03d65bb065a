// Package pipeline composes the chat processing stages: guardrail screening,
// intent classification, response generation, and the escalation decision.
//
// The orchestrator degrades instead of failing: a refused message gets a
// fixed refusal, a broken classifier falls back to "other", a broken
// generator falls back to a canned reply and escalates. Every run produces
// a ChatResult and exactly one completed trace.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/madoguchi/internal/agents"
	"github.com/ashita-ai/madoguchi/internal/guardrails"
	"github.com/ashita-ai/madoguchi/internal/metrics"
	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/trace"
)

// refusalPrefix starts every guardrail refusal. The guardrail reason is
// appended verbatim; reasons never echo the offending content.
const refusalPrefix = "I'm sorry, but I can't process this message. Reason: "

// generationFailedReason is recorded on escalations forced by a response
// generation failure, where no real reply exists to describe.
const generationFailedReason = "response generation failed; escalated for human follow-up"

// Classifier labels a user message with an intent.
type Classifier interface {
	Classify(ctx context.Context, message string) (string, error)
}

// Responder generates the support reply for a message.
type Responder interface {
	Generate(ctx context.Context, message, intent string, history []model.ConversationTurn) (agents.Reply, error)
}

// EscalationCreator opens a pending escalation record.
type EscalationCreator interface {
	Create(ctx context.Context, userID, userMessage, aiResponse, intent, reason string) (model.EscalationRecord, error)
}

// HistoryStore persists and recalls conversation turns. Nil disables history.
type HistoryStore interface {
	InsertTurn(ctx context.Context, turn model.ConversationTurn) error
	RecentTurns(ctx context.Context, userID string, limit int) ([]model.ConversationTurn, error)
}

// Config bounds the pipeline's upstream calls.
type Config struct {
	ClassifyTimeout time.Duration
	GenerateTimeout time.Duration
	HistoryLimit    int
}

// Orchestrator runs the chat pipeline.
type Orchestrator struct {
	classifier  Classifier
	responder   Responder
	escalations EscalationCreator
	history     HistoryStore
	metrics     *metrics.Store
	traces      *trace.Store
	cfg         Config
	logger      *slog.Logger
}

// New assembles an orchestrator. history may be nil when the server runs
// without persistence.
func New(classifier Classifier, responder Responder, escalations EscalationCreator, history HistoryStore, ms *metrics.Store, ts *trace.Store, cfg Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		classifier:  classifier,
		responder:   responder,
		escalations: escalations,
		history:     history,
		metrics:     ms,
		traces:      ts,
		cfg:         cfg,
		logger:      logger,
	}
}

// Process runs one user message through the full pipeline. It always
// produces a result: refusals, classifier fallbacks, and generator
// failures are folded into the ChatResult rather than surfaced as errors.
func (o *Orchestrator) Process(ctx context.Context, userID, message string) model.ChatResult {
	traceID := o.traces.Start("chat", map[string]any{"user_id": userID})

	// Guardrail screening runs before anything touches an upstream model.
	timer := o.metrics.Start(model.AgentGuardrail)
	screen := guardrails.Screen(message)
	elapsed := timer.Done(nil)
	o.traces.AddSpan(traceID, "guardrail_check", model.AgentGuardrail, elapsed, map[string]any{
		"allowed": screen.Allowed,
	})

	if !screen.Allowed {
		o.metrics.RecordIntent(model.IntentBlocked)
		o.logger.Info("message blocked by guardrails",
			"user_id", userID,
			"reason", screen.Reason,
			"trace_id", traceID,
		)
		result := model.ChatResult{
			Response:  refusalPrefix + screen.Reason,
			Intent:    model.IntentBlocked,
			AgentType: model.AgentGuardrail,
			TraceID:   traceID,
			Timestamp: time.Now().UTC(),
		}
		o.persistTurn(ctx, userID, message, result)
		o.traces.Complete(traceID, model.TraceCompleted, map[string]any{"intent": model.IntentBlocked})
		return result
	}

	intent := o.classify(ctx, traceID, message)
	o.metrics.RecordIntent(intent)

	history := o.recentHistory(ctx, userID)
	reply, genErr := o.generate(ctx, traceID, message, intent, history)

	result := o.decide(ctx, traceID, userID, message, intent, reply, genErr)
	o.persistTurn(ctx, userID, message, result)

	status := model.TraceCompleted
	if genErr != nil {
		status = model.TraceFailed
	}
	o.traces.Complete(traceID, status, map[string]any{
		"intent":    intent,
		"escalated": result.Escalated,
	})
	return result
}

// classify runs the intent stage under its own deadline. The classifier
// already folds errors into the "other" label, so a failure here only
// shows up in metrics and logs.
func (o *Orchestrator) classify(ctx context.Context, traceID uuid.UUID, message string) string {
	cctx, cancel := context.WithTimeout(ctx, o.cfg.ClassifyTimeout)
	defer cancel()

	timer := o.metrics.Start(model.AgentIntent)
	intent, err := o.classifier.Classify(cctx, message)
	elapsed := timer.Done(err)
	o.traces.AddSpan(traceID, "intent_classification", model.AgentIntent, elapsed, map[string]any{
		"intent": intent,
	})
	if err != nil {
		o.logger.Warn("intent classification degraded", "error", err, "trace_id", traceID)
	}
	return intent
}

func (o *Orchestrator) generate(ctx context.Context, traceID uuid.UUID, message, intent string, history []model.ConversationTurn) (agents.Reply, error) {
	gctx, cancel := context.WithTimeout(ctx, o.cfg.GenerateTimeout)
	defer cancel()

	timer := o.metrics.Start(model.AgentSupport)
	reply, err := o.responder.Generate(gctx, message, intent, history)
	elapsed := timer.Done(err)
	o.traces.AddSpan(traceID, "response_generation", model.AgentSupport, elapsed, map[string]any{
		"self_flagged": reply.SelfFlagged,
	})
	if err != nil {
		o.logger.Error("response generation failed", "error", err, "trace_id", traceID)
		reply = agents.Reply{Text: agents.FallbackReply}
	}
	return reply, err
}

// decide runs the escalation stage: rule evaluation plus, when the rules
// fire, creation of the pending escalation record. A registry failure is
// logged and the turn still reports escalated so a human can chase it.
func (o *Orchestrator) decide(ctx context.Context, traceID uuid.UUID, userID, message, intent string, reply agents.Reply, genErr error) model.ChatResult {
	timer := o.metrics.Start(model.AgentEscalation)
	escalate := genErr != nil || agents.ShouldEscalate(reply.SelfFlagged, reply.Text, intent)

	result := model.ChatResult{
		Response:  reply.Text,
		Intent:    intent,
		AgentType: model.AgentSupport,
		Escalated: escalate,
		TraceID:   traceID,
		Timestamp: time.Now().UTC(),
	}

	if escalate {
		o.metrics.RecordEscalation(model.AgentSupport)
		// A generator failure is its own audit reason; the rule-based
		// reasons describe properties of a reply that exists.
		reason := generationFailedReason
		if genErr == nil {
			reason = agents.EscalationReason(reply.SelfFlagged, intent)
		}
		rec, err := o.escalations.Create(ctx, userID, message, reply.Text, intent, reason)
		if err != nil {
			o.logger.Error("escalation record creation failed", "error", err, "trace_id", traceID)
		} else {
			id := rec.ID
			result.EscalationID = &id
			result.AgentType = model.AgentEscalation
		}
	}

	elapsed := timer.Done(nil)
	o.traces.AddSpan(traceID, "escalation_decision", model.AgentEscalation, elapsed, map[string]any{
		"escalated": escalate,
	})
	return result
}

// recentHistory fetches the user's last turns in chronological order.
// Best-effort: history failures degrade to an empty window.
func (o *Orchestrator) recentHistory(ctx context.Context, userID string) []model.ConversationTurn {
	if o.history == nil || o.cfg.HistoryLimit <= 0 {
		return nil
	}
	turns, err := o.history.RecentTurns(ctx, userID, o.cfg.HistoryLimit)
	if err != nil {
		o.logger.Warn("history lookup failed", "user_id", userID, "error", err)
		return nil
	}
	// RecentTurns returns newest first; prompts want oldest first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns
}

func (o *Orchestrator) persistTurn(ctx context.Context, userID, message string, result model.ChatResult) {
	if o.history == nil {
		return
	}
	turn := model.ConversationTurn{
		ID:        uuid.New(),
		UserID:    userID,
		Message:   message,
		Response:  result.Response,
		AgentType: result.AgentType,
		Metadata: map[string]any{
			"intent":    result.Intent,
			"escalated": result.Escalated,
			"trace_id":  result.TraceID.String(),
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := o.history.InsertTurn(ctx, turn); err != nil {
		o.logger.Warn("turn persistence failed", "user_id", userID, "error", err)
	}
}
