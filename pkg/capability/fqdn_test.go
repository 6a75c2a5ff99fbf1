package capability

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateFQDNHasExpectedShape(t *testing.T) {
	fqdn := GenerateFQDN("restart the payments deployment", "abcdef1234567890")
	parts := strings.Split(fqdn, ".")
	assert.Len(t, parts, 5)
	assert.Equal(t, "casys", parts[0])
	assert.Equal(t, "pml", parts[1])
	assert.Equal(t, "restart", parts[3])
	assert.Equal(t, "abcdef12", parts[4])
}

func TestGenerateFQDNTruncatesLongHash(t *testing.T) {
	fqdn := GenerateFQDN("get weather", "0123456789abcdef")
	assert.True(t, strings.HasSuffix(fqdn, ".01234567"))
}

func TestGenerateFQDNKeepsShortHashUnchanged(t *testing.T) {
	fqdn := GenerateFQDN("get weather", "abcd")
	assert.True(t, strings.HasSuffix(fqdn, ".abcd"))
}

func TestSplitIntentFallsBackWhenEmpty(t *testing.T) {
	ns, action := splitIntent("")
	assert.Equal(t, "general", ns)
	assert.Equal(t, "task", action)
}

func TestSplitIntentFindsVerbAnywhereInSentence(t *testing.T) {
	ns, action := splitIntent("the payments deployment restart now")
	assert.Equal(t, "restart", action)
	assert.Equal(t, "the-payments-deployment-now", ns)
}

func TestSplitIntentWithoutKnownVerbUsesLastWordAsAction(t *testing.T) {
	ns, action := splitIntent("database connection pool")
	assert.Equal(t, "pool", action)
	assert.Equal(t, "database-connection", ns)
}

func TestSlugifyCollapsesNonWordRuns(t *testing.T) {
	assert.Equal(t, "foo-bar", slugify("Foo!!Bar"))
	assert.Equal(t, "foo-bar", slugify("  foo bar  "))
}
