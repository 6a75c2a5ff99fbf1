package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeHashIsDeterministic(t *testing.T) {
	code := "func f(x int) int { return x + 1 }"
	assert.Equal(t, CodeHash(code), CodeHash(code))
}

func TestCodeHashIgnoresVariableNaming(t *testing.T) {
	a := "func f(x int) int { return x + 1 }"
	b := "func f(y int) int { return y + 1 }"
	assert.Equal(t, CodeHash(a), CodeHash(b))
}

func TestCodeHashIgnoresWhitespaceFormatting(t *testing.T) {
	a := "func f(x int) int {\n\treturn x + 1\n}"
	b := "func f(x int) int { return x+1 }"
	assert.Equal(t, CodeHash(a), CodeHash(b))
}

func TestCodeHashDistinguishesDifferentLogic(t *testing.T) {
	a := "func f(x int) int { return x + 1 }"
	b := "func f(x int) int { return x - 1 }"
	assert.NotEqual(t, CodeHash(a), CodeHash(b))
}

func TestCodeHashFallsBackWhenNotParseable(t *testing.T) {
	// Not valid standalone Go, so format.Source fails and the raw
	// (whitespace-trimmed) string is hashed instead of panicking.
	assert.NotPanics(t, func() {
		CodeHash("not: valid go( syntax")
	})
}
