package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ExtractJSONObject locates the first balanced {...} substring in model
// output, tolerating surrounding prose and markdown code fences. Braces
// inside JSON strings are skipped.
func ExtractJSONObject(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty model output")
	}

	if stripped := stripCodeFences(content); stripped != "" {
		content = stripped
	}

	start := strings.Index(content, "{")
	if start < 0 {
		return nil, fmt.Errorf("no JSON object found in model output")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// regular string byte
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				candidate := content[start : i+1]
				var parsed any
				if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
					return nil, fmt.Errorf("balanced JSON candidate does not parse: %w", err)
				}
				return json.RawMessage(candidate), nil
			}
		}
	}

	return nil, fmt.Errorf("unbalanced JSON object in model output")
}

// stripCodeFences removes a surrounding markdown code fence if present.
// Returns "" when the content is not fenced.
func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	// Drop first fence line.
	lines = lines[1:]
	// Drop trailing fence if present.
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// ValidateJSON validates a parsed JSON document against a JSON schema.
func ValidateJSON(schemaRaw, doc json.RawMessage) error {
	if len(schemaRaw) == 0 || len(doc) == 0 {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaRaw)); err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	var parsed any
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return fmt.Errorf("failed to decode JSON for validation: %w", err)
	}

	if err := schema.Validate(parsed); err != nil {
		return fmt.Errorf("output does not match schema: %w", err)
	}
	return nil
}
