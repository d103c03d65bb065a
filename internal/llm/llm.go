// Package llm provides the chat-completion client used by the intent and
// support agents. The model is a black-box text generator with a latency and
// a failure mode; everything above this package treats it as such.
package llm

import "context"

// Message is one chat message in a completion request.
type Message struct {
	Role    string `json:"role"` // "system" | "user" | "assistant"
	Content string `json:"content"`
}

// Request is a single completion call.
type Request struct {
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Client generates a completion for a sequence of chat messages.
// Implementations must honor ctx cancellation and map transport failures to
// model.ErrUpstreamTimeout / model.ErrUpstreamFailure.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}
