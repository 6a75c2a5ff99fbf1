// Package pii detects and redacts personally identifiable information in
// sandboxed tool output before it crosses back to the agent.
// It is reworked from a stateless regex-masker into a stable tokenizer: the
// same PII value seen twice within one request is replaced with the same
// token, and a Session holds an in-memory reverse table so a caller
// authorized to see the original (e.g. a downstream tool in the same DAG)
// can un-redact it — nothing is ever written to persistent storage.
package pii

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sync"
)

// Kind names the category a detector matched, used both in generated
// tokens and for callers that want to filter which kinds to redact.
type Kind string

const (
	KindEmail      Kind = "email"
	KindPhone      Kind = "phone"
	KindCreditCard Kind = "credit_card"
	KindIPAddress  Kind = "ip_address"
	KindSSN        Kind = "ssn"
)

// detector is one compiled pattern plus an optional extra validity check
// (e.g. Luhn) for kinds a regex alone over-matches.
type detector struct {
	kind    Kind
	pattern *regexp.Regexp
	valid   func(match string) bool
}

// builtinDetectors is a compiled-pattern table applied in priority order
// so a credit-card-shaped run of digits matches before any looser pattern.
var builtinDetectors = []detector{
	{kind: KindEmail, pattern: regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{kind: KindCreditCard, pattern: regexp.MustCompile(`\b(?:\d[ \-]?){13,19}\b`), valid: luhnValid},
	{kind: KindSSN, pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{kind: KindPhone, pattern: regexp.MustCompile(`\b(?:\+?1[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`)},
	{kind: KindIPAddress, pattern: regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
}

// luhnValid reports whether a run of digits (spaces/dashes stripped)
// passes the Luhn checksum, filtering out phone numbers and other
// digit runs the credit-card pattern would otherwise over-match.
func luhnValid(match string) bool {
	digits := make([]byte, 0, len(match))
	for i := 0; i < len(match); i++ {
		if match[i] >= '0' && match[i] <= '9' {
			digits = append(digits, match[i])
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// Session holds the reverse table for one request's worth of redactions:
// the same input value always maps to the same token within a Session,
// and Reveal only ever looks up what this Session itself produced.
type Session struct {
	mu      sync.Mutex
	tokens  map[string]string // original value -> token
	reverse map[string]string // token -> original value
	counts  map[Kind]int
}

// NewSession starts a fresh, empty reverse table.
func NewSession() *Session {
	return &Session{
		tokens:  make(map[string]string),
		reverse: make(map[string]string),
		counts:  make(map[Kind]int),
	}
}

// Redact scans text for every builtin PII pattern and replaces each match
// with a stable token of the form "[PII:<kind>:<n>]", where n increments
// per distinct value of that kind seen by this Session. A value already
// seen in this Session (even from an earlier call to Redact) reuses its
// existing token rather than minting a new one.
func (s *Session) Redact(text string) string {
	for _, d := range builtinDetectors {
		text = d.pattern.ReplaceAllStringFunc(text, func(match string) string {
			if d.valid != nil && !d.valid(match) {
				return match
			}
			return s.tokenFor(d.kind, match)
		})
	}
	return text
}

func (s *Session) tokenFor(kind Kind, original string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok, ok := s.tokens[original]; ok {
		return tok
	}
	s.counts[kind]++
	tok := fmt.Sprintf("[PII:%s:%d]", kind, s.counts[kind])
	s.tokens[original] = tok
	s.reverse[tok] = original
	return tok
}

// Reveal returns the original value a token stands for, and whether this
// Session minted that token. Used only by callers explicitly authorized
// to see unredacted PII within the same request — never persisted, never
// exposed across Sessions.
func (s *Session) Reveal(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	original, ok := s.reverse[token]
	return original, ok
}

// fingerprint is used only for test assertions that a detector fired,
// without leaking the matched value into a test name or log line.
func fingerprint(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:4])
}
