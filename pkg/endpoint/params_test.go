package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamSummarySortsPropertyNames(t *testing.T) {
	schema := []byte(`{"properties": {"zone": {"type": "string"}, "city": {"type": "string"}}}`)
	assert.Equal(t, "city:string zone:string", ParamSummary(schema))
}

func TestParamSummaryEmptyOnMissingSchema(t *testing.T) {
	assert.Equal(t, "", ParamSummary(nil))
	assert.Equal(t, "", ParamSummary([]byte("{}")))
}

func TestParamSummaryEmptyOnInvalidJSON(t *testing.T) {
	assert.Equal(t, "", ParamSummary([]byte("not json")))
}

func TestCanonicalizeArgsSortsKeysAndIsStable(t *testing.T) {
	a, err := CanonicalizeArgs(map[string]any{"b": 1, "a": 2})
	require.NoError(t, err)
	b, err := CanonicalizeArgs(map[string]any{"a": 2, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalizeArgsDiffersOnDifferentValues(t *testing.T) {
	a, err := CanonicalizeArgs(map[string]any{"city": "Paris"})
	require.NoError(t, err)
	b, err := CanonicalizeArgs(map[string]any{"city": "Berlin"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCanonicalizeArgsNormalizesNestedStructures(t *testing.T) {
	s, err := CanonicalizeArgs(map[string]any{
		"items": []any{map[string]any{"b": 1, "a": 2}},
	})
	require.NoError(t, err)
	assert.Contains(t, s, `"a":2`)
	assert.Contains(t, s, `"b":1`)
}
