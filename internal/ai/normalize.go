package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Result is the normalized output of one GenerateContent call: a JSON value
// or plain text, never both. The zero Result is the empty plain-text result
// returned by lenient calls that found no provider.
type Result struct {
	value      any
	text       string
	structured bool
}

// TextResult builds a plain-text result.
func TextResult(text string) Result { return Result{text: text} }

// ValueResult builds a structured result. A nil value stands for JSON null.
func ValueResult(value any) Result { return Result{value: value, structured: true} }

func (r Result) Structured() bool { return r.structured }

// Value is the decoded JSON tree. It is nil for text results and for null.
func (r Result) Value() any { return r.value }

// Text is the plain-text reply. It is empty for structured results.
func (r Result) Text() string { return r.text }

// IsEmpty reports whether this is the empty text result of a lenient failure.
func (r Result) IsEmpty() bool { return !r.structured && r.text == "" }

// String renders structured results as compact JSON.
func (r Result) String() string {
	if !r.structured {
		return r.text
	}
	data, err := json.Marshal(r.value)
	if err != nil {
		return fmt.Sprint(r.value)
	}
	return string(data)
}

// Decode copies a structured result into dst through its JSON form.
func (r Result) Decode(dst any) error {
	if !r.structured {
		return ErrNotStructured
	}
	data, err := json.Marshal(r.value)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func (r Result) MarshalJSON() ([]byte, error) {
	if r.structured {
		return json.Marshal(r.value)
	}
	return json.Marshal(r.text)
}

// Normalize turns an adapter reply into a Result. Structured replies pass
// through. Text is parsed as a whole, then searched for an embedded JSON
// object or array, and otherwise returned trimmed.
func Normalize(reply Reply) Result {
	if reply.Structured() {
		return ValueResult(reply.Value())
	}
	raw := strings.TrimSpace(reply.Text())
	if value, ok := parseJSON(raw); ok {
		return ValueResult(value)
	}
	if fragment, ok := ExtractJSON(raw); ok {
		if value, ok := parseJSON(fragment); ok {
			return ValueResult(value)
		}
	}
	return TextResult(raw)
}

// ExtractJSON finds the first bracket-balanced JSON object or array in s
// that parses. Brackets inside string literals are ignored. It reports false
// when s holds no such fragment.
func ExtractJSON(s string) (string, bool) {
	for from := 0; from < len(s); {
		idx := strings.IndexAny(s[from:], "{[")
		if idx < 0 {
			return "", false
		}
		start := from + idx
		if end := matchBracket(s, start); end > start {
			fragment := s[start : end+1]
			if json.Valid([]byte(fragment)) {
				return fragment, true
			}
		}
		from = start + 1
	}
	return "", false
}

// matchBracket returns the index of the bracket closing s[start], or -1 when
// the nesting never balances or a closer does not match its opener.
func matchBracket(s string, start int) int {
	stack := make([]byte, 0, 8)
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

func parseJSON(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	var value any
	if err := json.Unmarshal([]byte(s), &value); err != nil {
		return nil, false
	}
	return value, true
}
