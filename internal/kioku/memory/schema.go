package memory

import (
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// summarySchemaJSON is the contract for the summarizer's structured output.
const summarySchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["summary", "topics_covered", "key_questions", "important_decisions"],
  "properties": {
    "summary": {"type": "string", "minLength": 1},
    "topics_covered": {"type": "array", "items": {"type": "string"}},
    "key_questions": {"type": "array", "items": {"type": "string"}},
    "important_decisions": {"type": "array", "items": {"type": "string"}}
  }
}`

var summarySchema = jsonschema.MustCompileString("kioku://schemas/summary.json", summarySchemaJSON)
