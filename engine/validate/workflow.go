// Package validate implements JSON-schema validation of a workflow
// document (§4.1/§4.2's shape) before it reaches graph.New, so a malformed
// document submitted through cmd/engineserver's create-workflow route
// fails with a field-level error list instead of an opaque graph
// construction error.
//
// Grounded on the sibling pack's schema_validator.go: gojsonschema's
// BytesLoader pair plus Validate/result.Valid()/result.Errors() shape,
// adapted from a per-node validator executor into a one-shot document
// gate run once at ingestion instead of once per workflow run.
package validate

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// workflowSchema constrains a workflow document to the shape
// engine/graph.Workflow expects: an id, and nodes/edges arrays where every
// node carries an id/type/data.name.
const workflowSchema = `{
  "type": "object",
  "required": ["id", "nodes", "edges"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "description": {"type": "string"},
    "workingDirectory": {"type": "string"},
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "type", "data"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"type": "string", "minLength": 1},
          "data": {
            "type": "object",
            "required": ["name"],
            "properties": {
              "name": {"type": "string", "minLength": 1}
            }
          }
        }
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "source", "target"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "source": {"type": "string", "minLength": 1},
          "target": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(workflowSchema)

// Issue is one schema violation, shaped for direct JSON response.
type Issue struct {
	Field       string `json:"field"`
	Description string `json:"description"`
}

// Workflow validates raw (a workflow document, as submitted over HTTP)
// against workflowSchema. A nil/empty Issue slice means raw is well-shaped
// enough to attempt graph.New; schema validity does not guarantee the
// document builds a valid DAG (duplicate ids, missing input/output nodes,
// dangling edges are graph.New's job).
func Workflow(raw []byte) ([]Issue, error) {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	issues := make([]Issue, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		issues = append(issues, Issue{Field: e.Field(), Description: e.Description()})
	}
	return issues, nil
}

// WorkflowSchemaJSON returns the raw schema document, for a cmd/engineserver
// route that wants to hand callers the schema directly.
func WorkflowSchemaJSON() string {
	var v any
	_ = json.Unmarshal([]byte(workflowSchema), &v)
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}
