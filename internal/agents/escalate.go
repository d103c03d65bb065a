package agents

import (
	"strings"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// sensitiveIntents always escalate, regardless of the generated reply.
var sensitiveIntents = map[string]bool{
	model.IntentComplaint: true,
	model.IntentRefund:    true,
	model.IntentBilling:   true,
	model.IntentTechnical: true,
}

// uncertaintyPhrases in a reply indicate the generator is out of its depth.
var uncertaintyPhrases = []string{
	"not sure",
	"cannot help",
	"unable to",
	"i don't know",
	"might be wrong",
}

// ShouldEscalate decides whether a turn needs human review. Pure and total:
// true when the generator self-flagged, the intent is sensitive, or the reply
// hedges with an uncertainty phrase.
func ShouldEscalate(generatorFlag bool, replyText, intent string) bool {
	if generatorFlag {
		return true
	}
	if sensitiveIntents[strings.ToLower(intent)] {
		return true
	}

	lower := strings.ToLower(replyText)
	for _, phrase := range uncertaintyPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// EscalationReason composes the free-text reason recorded on the escalation.
func EscalationReason(generatorFlag bool, intent string) string {
	switch {
	case generatorFlag:
		return "support agent flagged the conversation for human review"
	case sensitiveIntents[strings.ToLower(intent)]:
		return "sensitive intent requires human review: " + intent
	default:
		return "low-confidence response requires human review"
	}
}
