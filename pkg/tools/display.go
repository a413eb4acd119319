package tools

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jllopis/kopl/pkg/kopl"
)

// Render formats a tool result as text. Entity sets render as their JSON
// record, value lists as the list of written values.
func Render(result any) string {
	switch v := result.(type) {
	case nil:
		return "null"
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case kopl.Verdict:
		return string(v)
	case kopl.Value:
		return v.String()
	case []kopl.Value:
		return mustJSON(writtenValues(v))
	}
	return mustJSON(result)
}

// Display renders result and summarizes it when the rendering is longer
// than limit bytes. Summaries state the item count and show the first
// preview ids and triples. The full result is never altered.
func Display(result any, limit, preview int) string {
	text := Render(result)
	if limit <= 0 || len(text) <= limit {
		return text
	}
	switch v := result.(type) {
	case kopl.EntitySet:
		ids := v.IDs()
		triples := "null"
		if p, ok := v.(kopl.Provenanced); ok {
			triples = mustJSON(head(p.Triples(), preview))
		}
		return fmt.Sprintf("Result is too long, %d items returned. Preceding examples: (%s, %s).",
			len(ids), mustJSON(head(ids, preview)), triples)
	case []kopl.Value:
		return fmt.Sprintf("Result is too long, %d items returned. Preceding examples: %s.",
			len(v), mustJSON(writtenValues(head(v, preview))))
	case []string:
		return fmt.Sprintf("Result is too long, %d items returned. Preceding examples: %s.",
			len(v), mustJSON(head(v, preview)))
	}
	return text
}

func head[T any](s []T, n int) []T {
	if n < len(s) {
		return s[:n]
	}
	return s
}

func writtenValues(values []kopl.Value) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.String()
	}
	return out
}

func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
