package endpoint

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// charsPerToken is the approximate number of characters per token for
// English text. Used for threshold estimation only, not exact counting.
const charsPerToken = 4

// EstimateTokens returns an approximate token count for text, using the
// common ~4-characters-per-token heuristic. Intentionally approximate: an
// exact tokenizer would add a dependency for a number only ever compared
// against a soft threshold.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// TruncateOutput cuts content at the last newline before maxBytes, so
// structured output (JSON, YAML, log lines) isn't split mid-line, and
// appends a marker noting how much was dropped. Used to enforce the
// sandbox's per-invocation max output bytes limit before a result
// crosses back over the RPC bridge.
func TruncateOutput(content string, maxBytes int) string {
	if maxBytes <= 0 || len(content) <= maxBytes {
		return content
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	truncated := content[:cut]
	if idx := strings.LastIndex(truncated, "\n"); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated + fmt.Sprintf("\n\n[TRUNCATED: original size %s, limit %s]",
		formatSize(len(content)), formatSize(maxBytes))
}

func formatSize(bytes int) string {
	if bytes < 1024 {
		return fmt.Sprintf("%dB", bytes)
	}
	return fmt.Sprintf("%dKB", bytes/1024)
}
