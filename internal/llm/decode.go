package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ParseError is returned when structured extraction fails: it carries the
// raw text and, when known, which fields a caller expected to find.
type ParseError struct {
	Raw            string
	Offset         int
	ExpectedFields []string
}

func (e *ParseError) Error() string {
	if len(e.ExpectedFields) > 0 {
		return fmt.Sprintf("llm: failed to extract structured output (expected fields %v) at offset %d", e.ExpectedFields, e.Offset)
	}
	return fmt.Sprintf("llm: failed to extract structured output at offset %d", e.Offset)
}

// ExtractJSON strips a leading/trailing fenced code block and returns the
// first balanced JSON object found in text.
func ExtractJSON(text string) (string, error) {
	cleaned := stripFences(text)

	start := strings.IndexByte(cleaned, '{')
	if start < 0 {
		return "", &ParseError{Raw: text, Offset: 0}
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(cleaned); i++ {
		ch := cleaned[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
			// inside a string literal, braces don't count
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return cleaned[start : i+1], nil
			}
		}
	}
	return "", &ParseError{Raw: text, Offset: start}
}

// ExtractXMLRoot returns the first balanced root element (by tag name) found
// in text, tolerant of a leading/trailing fenced code block.
func ExtractXMLRoot(text, rootTag string) (string, error) {
	cleaned := stripFences(text)

	openTag := "<" + rootTag
	start := strings.Index(cleaned, openTag)
	if start < 0 {
		return "", &ParseError{Raw: text, ExpectedFields: []string{rootTag}}
	}

	closeTag := "</" + rootTag + ">"
	end := strings.Index(cleaned[start:], closeTag)
	if end < 0 {
		return "", &ParseError{Raw: text, Offset: start, ExpectedFields: []string{rootTag}}
	}

	return cleaned[start : start+end+len(closeTag)], nil
}

func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```xml", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// DecodeJSON extracts a JSON object from raw, validates it against schema
// (compiled once by the caller via CompileSchema, expectedFields named for
// the resulting ParseError on failure), and unmarshals it into target.
// Schema violations and unmarshal failures both surface as the same
// *ParseError, so callers never need to distinguish "unparseable" from
// "parseable but wrong shape."
func DecodeJSON(raw string, schema *jsonschema.Schema, expectedFields []string, target any) error {
	extracted, err := ExtractJSON(raw)
	if err != nil {
		return err
	}

	var doc any
	if err := json.Unmarshal([]byte(extracted), &doc); err != nil {
		return &ParseError{Raw: raw, ExpectedFields: expectedFields}
	}

	if schema != nil {
		if err := schema.Validate(doc); err != nil {
			return &ParseError{Raw: raw, ExpectedFields: expectedFields}
		}
	}

	if err := json.Unmarshal([]byte(extracted), target); err != nil {
		return &ParseError{Raw: raw, ExpectedFields: expectedFields}
	}
	return nil
}

// CompileSchema compiles a JSON Schema document, given as raw JSON bytes,
// for repeated use with DecodeJSON.
func CompileSchema(name string, schemaJSON []byte) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(string(schemaJSON))); err != nil {
		return nil, fmt.Errorf("llm: adding schema resource: %w", err)
	}
	return c.Compile(name)
}
