package analyze

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrInvalidPayload is returned when the summarization output is not valid
// JSON or does not match the payload schema.
var ErrInvalidPayload = errors.New("invalid analysis payload")

const payloadSchemaURL = "https://reviewpulse.dev/schemas/analysis-payload.json"

const payloadSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["score", "criticisms", "praises"],
  "properties": {
    "score": {"type": "number", "minimum": 0, "maximum": 100},
    "criticisms": {"$ref": "#/$defs/group"},
    "praises": {"$ref": "#/$defs/group"}
  },
  "$defs": {
    "group": {
      "type": "object",
      "required": ["summary", "bullets"],
      "properties": {
        "summary": {"type": "string"},
        "bullets": {"type": "array", "items": {"$ref": "#/$defs/theme"}},
        "suggestions": {"type": "array", "items": {"type": "string"}}
      }
    },
    "theme": {
      "type": "object",
      "required": ["title", "details", "count"],
      "properties": {
        "title": {"type": "string", "minLength": 1},
        "details": {"type": "string"},
        "count": {"type": "integer", "minimum": 0},
        "examples": {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`

func compilePayloadSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(payloadSchema))
	if err != nil {
		return nil, fmt.Errorf("parsing payload schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(payloadSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("adding payload schema: %w", err)
	}
	return c.Compile(payloadSchemaURL)
}

// validatePayload checks raw JSON against the payload schema.
func validatePayload(schema *jsonschema.Schema, raw string) error {
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
