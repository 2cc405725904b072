package classify

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// resultJSONSchema is the boundary contract for the classification service
// response. Payloads are validated against it before any field is read.
const resultJSONSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["call_id", "matches"],
  "properties": {
    "call_id": {"type": "string"},
    "matches": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["keyword", "summary", "timestamp"],
        "properties": {
          "keyword": {"type": "string", "minLength": 1},
          "summary": {"type": "string", "maxLength": 200},
          "timestamp": {"type": "number", "minimum": 0},
          "link": {"type": "string"}
        }
      }
    }
  }
}`

// SchemaMismatchError reports a classification response that does not conform
// to the declared result schema.
type SchemaMismatchError struct {
	Detail string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("classification response schema mismatch: %s", e.Detail)
}

// ValidateResultJSON checks a raw response payload against the result schema.
func ValidateResultJSON(raw string) error {
	schemaLoader := gojsonschema.NewStringLoader(resultJSONSchema)
	documentLoader := gojsonschema.NewStringLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return &SchemaMismatchError{Detail: err.Error()}
	}
	if result.Valid() {
		return nil
	}

	var details []string
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		details = append(details, fmt.Sprintf("%s: %s", field, desc.Description()))
	}
	return &SchemaMismatchError{Detail: strings.Join(details, "; ")}
}
