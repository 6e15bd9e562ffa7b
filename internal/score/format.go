package score

import (
    "encoding/json"
    "fmt"
    "strconv"
    "strings"
)

// Format renders a computed result. Supported formats, case-insensitive:
// "raw" (or empty) returns the value untouched, "html" wraps it in a span,
// "json" returns a {"result": …} document.
func Format(v any, format string) (any, error) {
    switch strings.ToLower(format) {
    case "", "raw":
        return v, nil
    case "html":
        return "<span>" + formatValue(v) + "</span>", nil
    case "json":
        b, err := json.Marshal(struct {
            Result any `json:"result"`
        }{Result: v})
        if err != nil {
            return nil, err
        }
        return string(b), nil
    }
    return nil, fmt.Errorf("format %q: %w", format, ErrBadArgument)
}

func formatValue(v any) string {
    switch t := v.(type) {
    case float64:
        return strconv.FormatFloat(t, 'g', -1, 64)
    case bool:
        return strconv.FormatBool(t)
    case []any:
        parts := make([]string, 0, len(t))
        for _, e := range t {
            parts = append(parts, formatValue(e))
        }
        return strings.Join(parts, ", ")
    }
    return fmt.Sprint(v)
}
