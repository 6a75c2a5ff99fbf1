package endpoint

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// ParamSummary derives the short "parameter summary" fragment fed into
// Tool.EmbeddingText: the top-level property names and JSON types from
// a tool's input schema, sorted for determinism so the resulting
// embedding is stable across re-registration.
func ParamSummary(inputSchema []byte) string {
	if len(inputSchema) == 0 {
		return ""
	}

	var schema struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(inputSchema, &schema); err != nil {
		return ""
	}
	if len(schema.Properties) == 0 {
		return ""
	}

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for i, name := range names {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(name)
		if t := schema.Properties[name].Type; t != "" {
			buf.WriteByte(':')
			buf.WriteString(t)
		}
	}
	return buf.String()
}

// CanonicalizeArgs renders args as a stable, whitespace-normalized JSON
// string with sorted keys — the cache key material the Speculative
// Executor hashes alongside a capability FQDN.
func CanonicalizeArgs(args map[string]any) (string, error) {
	normalized, err := normalize(args)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// normalize recursively sorts map keys by round-tripping through
// encoding/json's default map ordering (Go's json.Marshal already sorts
// map[string]any keys) — this exists to make the recursion explicit and
// to normalize nested slices of maps the same way.
func normalize(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			n, err := normalize(vv)
			if err != nil {
				return nil, err
			}
			out[strings.TrimSpace(k)] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			n, err := normalize(vv)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return val, nil
	}
}
