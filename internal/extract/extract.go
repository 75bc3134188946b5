// Package extract pulls the first balanced JSON object out of free-form model
// output and validates it against an output schema.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"CatalogEnricher/internal/domain"
)

// ErrExtraction marks every extraction or validation failure.
var ErrExtraction = errors.New("extraction failed")

// Error describes why a response could not be turned into a structured result.
type Error struct {
	Reason  string
	Snippet string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %s (payload snippet: %s)", ErrExtraction, e.Reason, e.Snippet)
}

func (e *Error) Unwrap() error {
	return ErrExtraction
}

// Result is a validated structured object and the exact span it was parsed from.
type Result struct {
	Fields domain.EnrichedFields
	Raw    string
}

// Extract finds the first top-level balanced object in text, parses it, and
// checks that every schema field is present with the expected type.
func Extract(text string, schema domain.OutputSchema) (Result, error) {
	span, ok := FirstObject(text)
	if !ok {
		return Result{}, fail("no balanced object found", text)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(span)))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return Result{}, fail("parse object: "+err.Error(), span)
	}

	for _, field := range schema.Fields {
		value, present := fields[field.Name]
		if !present {
			return Result{}, fail(fmt.Sprintf("missing field %q", field.Name), span)
		}
		if !matches(value, field.Type) {
			return Result{}, fail(fmt.Sprintf("field %q is not %s", field.Name, field.Type), span)
		}
	}

	return Result{Fields: domain.EnrichedFields(fields), Raw: span}, nil
}

// FirstObject scans left to right and returns the first span where brace depth
// returns to zero after going positive. Braces inside string literals are
// ignored; quotes are only tracked inside an object, so stray quotes in the
// surrounding prose cannot derail the scan.
func FirstObject(text string) (string, bool) {
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]
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
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func matches(value any, t domain.FieldType) bool {
	switch t {
	case domain.FieldString:
		_, ok := value.(string)
		return ok
	case domain.FieldBoolean:
		_, ok := value.(bool)
		return ok
	case domain.FieldSequence:
		_, ok := value.([]any)
		return ok
	case domain.FieldNumber:
		_, ok := value.(json.Number)
		return ok
	case domain.FieldObject:
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

func fail(reason, payload string) *Error {
	return &Error{Reason: reason, Snippet: snippet(payload)}
}

func snippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
