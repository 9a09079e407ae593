// Package schema builds the JSON Schema that constrains a synthesized cell value.
package schema

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/moritzWa/deeptable/internal/model"
)

// ResultField is the single property every result schema describes.
const ResultField = "result"

// Schema is a JSON Schema document in map form, ready to marshal or hand to an
// SDK that accepts arbitrary schema values.
type Schema map[string]any

// Build returns the object schema wrapping a single required "result"
// property typed after the column. existing lists the column's current
// category names and is only used for select and multiSelect columns.
func Build(columnType model.ColumnType, existing []string) (Schema, error) {
	result, err := resultSchema(columnType, existing)
	if err != nil {
		return nil, err
	}
	return Schema{
		"type": "object",
		"properties": map[string]any{
			ResultField: result,
		},
		"required":             []string{ResultField},
		"additionalProperties": false,
	}, nil
}

// Result returns the schema of the "result" property.
func (s Schema) Result() map[string]any {
	props, _ := s["properties"].(map[string]any)
	r, _ := props[ResultField].(map[string]any)
	return r
}

func resultSchema(columnType model.ColumnType, existing []string) (map[string]any, error) {
	switch columnType {
	case model.ColumnTypeText, model.ColumnTypeLink:
		return map[string]any{"type": "string"}, nil
	case model.ColumnTypeNumber:
		return map[string]any{"type": "number"}, nil
	case model.ColumnTypeSelect:
		return map[string]any{
			"type":        "string",
			"description": categoryDescription(existing, false),
		}, nil
	case model.ColumnTypeMultiSelect:
		return map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": categoryDescription(existing, true),
		}, nil
	default:
		return nil, eris.Errorf("schema: unsupported column type %q", columnType)
	}
}

func categoryDescription(existing []string, plural bool) string {
	pick, fallback := "the best matching existing category", "If none match, suggest a new one."
	if plural {
		pick, fallback = "every matching existing category", "If none match, suggest new ones."
	}
	if len(existing) == 0 {
		return "There are no existing categories yet. " + fallback
	}
	return fmt.Sprintf("Existing categories: %s. Choose %s, reusing its exact spelling. %s",
		strings.Join(quoteAll(existing), ", "), pick, fallback)
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = fmt.Sprintf("%q", n)
	}
	return out
}
