package endpoint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokensEmptyIsZero(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
}

func TestEstimateTokensRoundsUp(t *testing.T) {
	assert.Equal(t, 1, EstimateTokens("abc"))  // 3 chars -> ceil(3/4)
	assert.Equal(t, 1, EstimateTokens("abcd")) // 4 chars -> ceil(4/4)
	assert.Equal(t, 2, EstimateTokens("abcde"))
}

func TestTruncateOutputLeavesShortContentUnchanged(t *testing.T) {
	assert.Equal(t, "short", TruncateOutput("short", 100))
}

func TestTruncateOutputNoopOnNonPositiveLimit(t *testing.T) {
	assert.Equal(t, "anything", TruncateOutput("anything", 0))
}

func TestTruncateOutputCutsAtLastNewlineBeforeLimit(t *testing.T) {
	content := "line one\nline two\nline three"
	out := TruncateOutput(content, 15)
	assert.True(t, strings.HasPrefix(out, "line one"))
	assert.Contains(t, out, "[TRUNCATED: original size")
	assert.False(t, strings.Contains(out[:strings.Index(out, "[TRUNCATED")], "line three"))
}

func TestTruncateOutputReportsSizesInMarker(t *testing.T) {
	content := strings.Repeat("x", 2000)
	out := TruncateOutput(content, 500)
	assert.Contains(t, out, "limit 500B")
	assert.Contains(t, out, "original size 1KB")
}
