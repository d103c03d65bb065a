// Package agents implements the model-backed pipeline stages: intent
// classification and support response generation, plus the pure escalation
// decision that combines their outputs.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashita-ai/madoguchi/internal/llm"
	"github.com/ashita-ai/madoguchi/internal/model"
)

const intentPrompt = `You are an intent classification agent. Analyze the user's message and classify it into one of these categories:
- greeting: Simple greetings or hello
- question: General questions about products/services
- complaint: Issues or problems
- refund: Refund requests
- technical: Technical support needed
- billing: Billing or payment issues
- other: Anything else

Respond with ONLY the category name, nothing else.`

// Classifier labels user messages with one of the closed intent set.
type Classifier struct {
	client llm.Client
	logger *slog.Logger
}

// NewClassifier creates an intent classifier over the given model client.
func NewClassifier(client llm.Client, logger *slog.Logger) *Classifier {
	return &Classifier{client: client, logger: logger}
}

// Classify returns the intent label for message. Output outside the closed
// set is normalized to "other" rather than propagated. The model call error,
// if any, is returned alongside the normalized fallback label so the caller
// can record it without losing the pipeline.
func (c *Classifier) Classify(ctx context.Context, message string) (string, error) {
	raw, err := c.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: intentPrompt},
			{Role: "user", Content: message},
		},
		Temperature: 0.3,
		MaxTokens:   50,
	})
	if err != nil {
		return model.IntentOther, fmt.Errorf("agents: classify intent: %w", err)
	}

	intent := strings.ToLower(strings.TrimSpace(raw))
	if !model.ValidIntents[intent] {
		c.logger.Debug("classifier returned unknown label, normalizing", "label", intent)
		intent = model.IntentOther
	}
	return intent, nil
}
