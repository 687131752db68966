// Package redact provides a lightweight regex-based PII redactor for user
// transcripts before they are persisted into conversation history or emitted
// to the telemetry stream.
//
// Detected entities are replaced with fixed tokens: phone numbers become
// <PHONE>, email addresses <EMAIL>, credit card numbers <CREDIT_CARD>, and
// social security numbers <REDACTED>. The redactor is pattern-based, not an
// NLP pipeline; it trades recall for zero per-call latency.
package redact

import "regexp"

// rule pairs a compiled pattern with its replacement token.
type rule struct {
	re    *regexp.Regexp
	token string
}

// rules are applied in order. Credit cards go before phone numbers so a
// 16-digit card grouped in fours is not half-eaten by the phone pattern.
var rules = []rule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), "<EMAIL>"},
	{regexp.MustCompile(`\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{3,4}\b`), "<CREDIT_CARD>"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "<REDACTED>"},
	{regexp.MustCompile(`(\+?\d{1,2}[-. ]?)?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`), "<PHONE>"},
}

// Redactor replaces PII in text with placeholder tokens. The zero value is
// ready to use and safe for concurrent use.
type Redactor struct{}

// New returns a ready Redactor.
func New() *Redactor { return &Redactor{} }

// Redact returns text with every detected PII span replaced by its token.
// Empty input returns the empty string.
func (r *Redactor) Redact(text string) string {
	if text == "" {
		return ""
	}
	for _, ru := range rules {
		text = ru.re.ReplaceAllString(text, ru.token)
	}
	return text
}
