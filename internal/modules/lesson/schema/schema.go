package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Schema is a compiled JSON schema plus its canonical text for instructions.
type Schema struct {
	Name     string
	text     string
	resolved *jsonschema.Resolved
}

// Compile builds a Schema from a decoded (YAML or JSON) document.
func Compile(name string, doc map[string]any) (*Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("schema %s: encode: %w", name, err)
	}
	var js jsonschema.Schema
	if err := json.Unmarshal(raw, &js); err != nil {
		return nil, fmt.Errorf("schema %s: decode: %w", name, err)
	}
	resolved, err := js.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("schema %s: resolve: %w", name, err)
	}
	pretty, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("schema %s: indent: %w", name, err)
	}
	return &Schema{Name: name, text: string(pretty), resolved: resolved}, nil
}

// Text returns the schema as indented JSON.
func (s *Schema) Text() string { return s.text }

// Validate returns the validation errors for raw, or nil when raw conforms.
func (s *Schema) Validate(raw []byte) []string {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return []string{"payload is not valid JSON: " + err.Error()}
	}
	if err := s.resolved.Validate(instance); err != nil {
		return splitErrors(err.Error())
	}
	return nil
}

func splitErrors(msg string) []string {
	var out []string
	for _, line := range strings.Split(msg, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// ExtractBlock finds the first balanced JSON object or array in text, skipping
// surrounding prose and code fences. Braces inside strings are ignored.
func ExtractBlock(text string) (json.RawMessage, bool) {
	for start := 0; start < len(text); start++ {
		if text[start] != '{' && text[start] != '[' {
			continue
		}
		end := matchClose(text, start)
		if end < 0 {
			continue
		}
		candidate := text[start : end+1]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), true
		}
	}
	return nil, false
}

func matchClose(text string, start int) int {
	var stack []byte
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
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
