package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// ToSnake converts camelCase to snake_case.
func ToSnake(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ToCamel converts snake_case to camelCase.
func ToCamel(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	upper := false
	for i, r := range s {
		if r == '_' && i > 0 {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SnakeKeys returns a copy of v with every object key converted to
// snake_case. v is a decoded JSON value.
func SnakeKeys(v any) any {
	return convertKeys(v, ToSnake)
}

// CamelKeys returns a copy of v with every object key converted to
// camelCase.
func CamelKeys(v any) any {
	return convertKeys(v, ToCamel)
}

func convertKeys(v any, conv func(string) string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[conv(k)] = convertKeys(val, conv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = convertKeys(val, conv)
		}
		return out
	default:
		return v
	}
}

// DecodeCamel decodes a camelCase JSON document into v, whose fields are
// tagged with snake_case names.
func DecodeCamel(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return fmt.Errorf("decoding camelCase document: %w", err)
	}
	b, err := json.Marshal(SnakeKeys(generic))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
