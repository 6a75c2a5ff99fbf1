package pii

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactEmail(t *testing.T) {
	s := NewSession()
	out := s.Redact("contact jane.doe@example.com for access")
	assert.NotContains(t, out, "jane.doe@example.com")
	assert.Contains(t, out, "[PII:email:1]")
}

func TestRedactStableTokenAcrossCalls(t *testing.T) {
	s := NewSession()
	first := s.Redact("owner: jane.doe@example.com")
	second := s.Redact("requester: jane.doe@example.com")
	assert.Equal(t, "[PII:email:1]", extractToken(t, first))
	assert.Equal(t, "[PII:email:1]", extractToken(t, second), "same value must reuse the first token")
}

func TestRedactDistinctValuesGetDistinctTokens(t *testing.T) {
	s := NewSession()
	out := s.Redact("a@example.com and b@example.com")
	assert.Contains(t, out, "[PII:email:1]")
	assert.Contains(t, out, "[PII:email:2]")
}

func TestRedactCreditCardRequiresLuhn(t *testing.T) {
	s := NewSession()
	valid := s.Redact("card 4111111111111111 on file")
	assert.Contains(t, valid, "[PII:credit_card:1]")

	s2 := NewSession()
	invalid := s2.Redact("case number 1234567890123456")
	assert.Equal(t, "case number 1234567890123456", invalid, "a Luhn-invalid digit run must not be redacted as a card")
}

func TestRedactSSN(t *testing.T) {
	s := NewSession()
	out := s.Redact("ssn 123-45-6789 on record")
	assert.Contains(t, out, "[PII:ssn:1]")
}

func TestRedactIPAddress(t *testing.T) {
	s := NewSession()
	out := s.Redact("connect to 10.0.0.42 for staging")
	assert.Contains(t, out, "[PII:ip_address:1]")
}

func TestRevealReturnsOriginalWithinSession(t *testing.T) {
	s := NewSession()
	s.Redact("owner: jane.doe@example.com")
	original, ok := s.Reveal("[PII:email:1]")
	require.True(t, ok)
	assert.Equal(t, "jane.doe@example.com", original)
}

func TestRevealUnknownTokenFails(t *testing.T) {
	s := NewSession()
	_, ok := s.Reveal("[PII:email:999]")
	assert.False(t, ok)
}

func TestFingerprintDoesNotLeakValue(t *testing.T) {
	fp := fingerprint("jane.doe@example.com")
	assert.NotContains(t, fp, "jane")
	assert.Len(t, fp, 8)
}

func extractToken(t *testing.T, text string) string {
	t.Helper()
	start := indexOf(text, "[PII:")
	require.GreaterOrEqual(t, start, 0, "expected a PII token in %q", text)
	end := indexOf(text[start:], "]")
	require.GreaterOrEqual(t, end, 0)
	return text[start : start+end+1]
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
