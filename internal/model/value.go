package model

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ValueKind tags which field of a Value is populated.
type ValueKind string

const (
	ValueText   ValueKind = "text"
	ValueNumber ValueKind = "number"
	ValueMulti  ValueKind = "multi"
)

// MultiSeparator joins multiSelect values for storage.
const MultiSeparator = ", "

// Value is a typed cell value. Text also carries link and select values.
type Value struct {
	Kind   ValueKind `json:"kind"`
	Text   string    `json:"text,omitempty"`
	Number float64   `json:"number,omitempty"`
	Items  []string  `json:"items,omitempty"`
}

// SingleValue returns a text-kind value.
func SingleValue(s string) Value {
	return Value{Kind: ValueText, Text: s}
}

// NumberValue returns a number-kind value.
func NumberValue(n float64) Value {
	return Value{Kind: ValueNumber, Number: n}
}

// MultiValue returns a multi-kind value. A nil slice is stored as empty.
func MultiValue(items []string) Value {
	if items == nil {
		items = []string{}
	}
	return Value{Kind: ValueMulti, Items: items}
}

// IsEmpty reports whether the value carries no content.
func (v Value) IsEmpty() bool {
	switch v.Kind {
	case ValueText:
		return v.Text == ""
	case ValueMulti:
		return len(v.Items) == 0
	case ValueNumber:
		return false
	default:
		return true
	}
}

// Labels returns the value as a list of labels: the items of a multi value,
// a one-element list for non-empty text, or nil.
func (v Value) Labels() []string {
	switch v.Kind {
	case ValueMulti:
		return v.Items
	case ValueText:
		if v.Text == "" {
			return nil
		}
		return []string{v.Text}
	default:
		return nil
	}
}

// Stored returns the representation persisted in Row.Data: a string for text
// and multi values (multi joined with MultiSeparator), a float64 for numbers.
func (v Value) Stored() any {
	switch v.Kind {
	case ValueNumber:
		return v.Number
	default:
		return v.StorageString()
	}
}

// StorageString renders the value as a single string.
func (v Value) StorageString() string {
	switch v.Kind {
	case ValueMulti:
		return strings.Join(v.Items, MultiSeparator)
	case ValueNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	default:
		return v.Text
	}
}

// MarshalJSON renders the value the way the grid consumes it: a bare string,
// number, or array of strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueNumber:
		return json.Marshal(v.Number)
	case ValueMulti:
		items := v.Items
		if items == nil {
			items = []string{}
		}
		return json.Marshal(items)
	default:
		return json.Marshal(v.Text)
	}
}

// UnmarshalJSON accepts a bare string, number, or array of strings.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "model: unmarshal value")
	}
	switch t := raw.(type) {
	case nil:
		*v = SingleValue("")
	case string:
		*v = SingleValue(t)
	case float64:
		*v = NumberValue(t)
	case []any:
		items := make([]string, 0, len(t))
		for _, it := range t {
			s, ok := it.(string)
			if !ok {
				return eris.Errorf("model: value array contains %T", it)
			}
			items = append(items, s)
		}
		*v = MultiValue(items)
	default:
		return eris.Errorf("model: unsupported value type %T", raw)
	}
	return nil
}

// SplitMulti parses a stored multiSelect string back into its labels,
// trimming whitespace and dropping empty parts.
func SplitMulti(stored string) []string {
	parts := strings.Split(stored, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
