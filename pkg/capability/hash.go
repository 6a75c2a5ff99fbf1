package capability

import (
	"crypto/sha256"
	"encoding/hex"
	"go/format"
	"regexp"
	"strings"
)

var identifierRegex = regexp.MustCompile(`\b[a-zA-Z_][a-zA-Z0-9_]*\b`)

// CodeHash computes a stable hash over code after whitespace normalization
// and identifier renaming of trivial locals, so two functionally identical
// snippets that differ only in formatting or local variable names collapse
// to the same capability.
func CodeHash(code string) string {
	normalized := normalizeCode(code)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// normalizeCode gofmt-normalizes whitespace when possible (falling back to
// the raw string if it doesn't parse as a standalone Go fragment — most
// capability snippets are function bodies, not full files), collapses
// every run of whitespace to a single space so one-line and multi-line
// layouts of the same code match, and renames every identifier to a
// canonical position-indexed name so naming choices don't affect the hash.
func normalizeCode(code string) string {
	trimmed := strings.TrimSpace(code)

	if formatted, err := format.Source([]byte(trimmed)); err == nil {
		trimmed = string(formatted)
	}
	trimmed = strings.Join(strings.Fields(trimmed), " ")

	seen := make(map[string]string)
	next := 0
	renamed := identifierRegex.ReplaceAllStringFunc(trimmed, func(tok string) string {
		if isGoKeywordOrBuiltin(tok) {
			return tok
		}
		if alias, ok := seen[tok]; ok {
			return alias
		}
		alias := "_v" + itoa(next)
		seen[tok] = alias
		next++
		return alias
	})
	return renamed
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

var goKeywordsAndBuiltins = map[string]bool{
	"break": true, "default": true, "func": true, "interface": true, "select": true,
	"case": true, "defer": true, "go": true, "map": true, "struct": true,
	"chan": true, "else": true, "goto": true, "package": true, "switch": true,
	"const": true, "fallthrough": true, "if": true, "range": true, "type": true,
	"continue": true, "for": true, "import": true, "return": true, "var": true,
	"true": true, "false": true, "nil": true, "iota": true,
	"int": true, "int8": true, "int16": true, "int32": true, "int64": true,
	"uint": true, "uint8": true, "uint16": true, "uint32": true, "uint64": true,
	"float32": true, "float64": true, "string": true, "bool": true, "byte": true,
	"rune": true, "error": true, "any": true,
	"len": true, "cap": true, "make": true, "new": true, "append": true,
	"copy": true, "delete": true, "panic": true, "recover": true, "print": true, "println": true,
}

func isGoKeywordOrBuiltin(tok string) bool {
	return goKeywordsAndBuiltins[tok]
}
