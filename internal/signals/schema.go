package signals

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// partialSignalSchema constrains what a strategy worker may submit. The
// consolidated portfolio is a symbol->weight object with weights in [0,1];
// anything else is rejected before it can poison the aggregation.
const partialSignalSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["consolidated_portfolio", "signal_count"],
  "properties": {
    "consolidated_portfolio": {
      "type": "object",
      "additionalProperties": {
        "type": "number",
        "minimum": 0,
        "maximum": 1
      }
    },
    "signal_count": {
      "type": "integer",
      "minimum": 0
    },
    "signals": {
      "type": "array",
      "items": {"type": "object"}
    },
    "data_freshness": {
      "type": "object"
    }
  }
}`

func compilePartialSignalSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("partial_signal.json", strings.NewReader(partialSignalSchema)); err != nil {
		return nil, err
	}
	return compiler.Compile("partial_signal.json")
}
