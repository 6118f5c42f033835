package apirun

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sandrolain/gosonata"
)

// pathExpression turns a dot path such as "data.items.0.id" into a JSONata
// expression. Keys starting with '$' are already expressions.
func pathExpression(path string) string {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, "$") {
		return path
	}
	var b strings.Builder
	for _, seg := range strings.Split(path, ".") {
		if _, err := strconv.Atoi(seg); err == nil && b.Len() > 0 {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString("`" + strings.ReplaceAll(seg, "`", "") + "`")
	}
	return b.String()
}

// lookup evaluates path against the decoded response body.
func lookup(ctx context.Context, path string, data any) (any, error) {
	return gosonata.EvalWithContext(ctx, pathExpression(path), data)
}

// sameJSON compares two values by their JSON encoding, so 2 and 2.0 or
// differently typed maps compare equal.
func sameJSON(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	var va, vb any
	if json.Unmarshal(ja, &va) != nil || json.Unmarshal(jb, &vb) != nil {
		return false
	}
	return compactJSON(va) == compactJSON(vb)
}

// display formats a value the way it appears in failure messages.
func display(v any) string {
	switch t := v.(type) {
	case nil:
		return "undefined"
	case string:
		return t
	default:
		return compactJSON(t)
	}
}

func mismatch(path string, expected, actual any) string {
	return fmt.Sprintf("Expected %s=%s but got %s", path, display(expected), display(actual))
}
