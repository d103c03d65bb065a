// Package guardrails screens inbound messages before any model call.
//
// Screening is a pure function over fixed deny-lists: blocked-keyword
// substring match, credential-pattern regex match, and a message length
// ceiling, evaluated in that order with first match winning.
package guardrails

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxMessageLen is the ceiling on screened message length, in characters.
const MaxMessageLen = 2000

// blockedKeywords are unsafe-intent keywords matched case-insensitively as
// substrings.
var blockedKeywords = []string{
	"hack",
	"exploit",
	"bypass",
	"unauthorized access",
	"illegal",
	"harmful",
	"dangerous",
}

// credentialPatterns match credential-like key=value forms. A match blocks
// the message with a generic reason — the matched text is never echoed back.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)password\s*=\s*\S+`),
	regexp.MustCompile(`(?i)api[_-]?key\s*=\s*\S+`),
	regexp.MustCompile(`(?i)secret\s*=\s*\S+`),
	regexp.MustCompile(`(?i)token\s*=\s*\S+`),
}

// Result is the outcome of screening one message.
type Result struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Screen evaluates a message against the guardrail policy. Deterministic,
// no side effects.
func Screen(message string) Result {
	lower := strings.ToLower(message)

	for _, kw := range blockedKeywords {
		if strings.Contains(lower, kw) {
			return Result{Allowed: false, Reason: fmt.Sprintf("contains blocked keyword: %s", kw)}
		}
	}

	for _, pat := range credentialPatterns {
		if pat.MatchString(message) {
			return Result{Allowed: false, Reason: "contains sensitive information pattern"}
		}
	}

	if len([]rune(message)) > MaxMessageLen {
		return Result{Allowed: false, Reason: "message too long"}
	}

	return Result{Allowed: true, Reason: "passed all guardrails"}
}
