package agents

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ashita-ai/madoguchi/internal/llm"
	"github.com/ashita-ai/madoguchi/internal/model"
)

const supportPrompt = `You are a helpful customer support agent.

Your responsibilities:
1. Provide friendly and professional assistance
2. Answer user questions accurately
3. Help resolve customer issues
4. Escalate to a human agent when the issue is complex or uncertain

IMPORTANT:
- If escalation is needed, include the word "ESCALATE" at the end of your response.
- Keep responses concise, empathetic, and clear.`

// escalateMarker is the self-flag token the generator embeds when it wants
// human review. It is stripped from the user-visible reply. Matching is
// case-insensitive: models do not reliably preserve the prompted casing.
const escalateMarker = "ESCALATE"

var escalateRe = regexp.MustCompile("(?i)" + escalateMarker)

// FallbackReply is returned when the generator fails; the pipeline pairs it
// with a forced escalation.
const FallbackReply = "I'm facing some technical issues right now. Your request has been passed to our support team and a human agent will follow up shortly."

// Reply is the generator's output for one message.
type Reply struct {
	Text        string
	SelfFlagged bool // generator asked for escalation via the marker
}

// Responder generates candidate support replies.
type Responder struct {
	client llm.Client
	logger *slog.Logger
}

// NewResponder creates a support responder over the given model client.
func NewResponder(client llm.Client, logger *slog.Logger) *Responder {
	return &Responder{client: client, logger: logger}
}

// Generate produces a candidate reply for message given the classified intent
// and a recent-history window. On model failure the error is returned; the
// caller supplies the fallback and forces escalation.
func (r *Responder) Generate(ctx context.Context, message, intent string, history []model.ConversationTurn) (Reply, error) {
	messages := []llm.Message{
		{Role: "system", Content: supportPrompt},
		{Role: "system", Content: "User intent: " + intent},
	}

	if len(history) > 0 {
		var b strings.Builder
		b.WriteString("Previous conversation:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "User: %s\nAgent: %s\n", turn.Message, turn.Response)
		}
		messages = append(messages, llm.Message{Role: "system", Content: b.String()})
	}

	messages = append(messages, llm.Message{Role: "user", Content: message})

	text, err := r.client.Complete(ctx, llm.Request{
		Messages:    messages,
		Temperature: 0.7,
		MaxTokens:   300,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("agents: generate response: %w", err)
	}

	flagged := escalateRe.MatchString(text)
	if flagged {
		text = stripMarker(text)
	}

	return Reply{Text: text, SelfFlagged: flagged}, nil
}

// stripMarker removes the escalation marker (any casing) from a reply.
func stripMarker(text string) string {
	return strings.TrimSpace(escalateRe.ReplaceAllString(text, ""))
}
