package enrich

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/moritzWa/deeptable/internal/model"
)

// CellContext is what the pipeline knows about the cell being filled.
type CellContext struct {
	TableName        string
	TableDescription string
	Column           model.Column
	// Columns labels the row's other cells; when empty, RowData keys are used.
	Columns []model.Column
	RowData map[string]any
}

// BuildQuestion composes the research question sent to every provider.
func BuildQuestion(cc CellContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "We are building a research table called %q", cc.TableName)
	if d := strings.TrimSpace(cc.TableDescription); d != "" {
		fmt.Fprintf(&b, " (%s)", d)
	}
	b.WriteString(".\n")

	if facts := knownFacts(cc); len(facts) > 0 {
		b.WriteString("\nWhat we already know about this row:\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s: %s\n", f[0], f[1])
		}
	}

	col := cc.Column
	fmt.Fprintf(&b, "\nFind the value of %q for this row.", col.Name)
	if d := strings.TrimSpace(col.Description); d != "" {
		fmt.Fprintf(&b, " %s", strings.TrimSuffix(d, "."))
		b.WriteString(".")
	}
	b.WriteString("\n")

	switch col.Type {
	case model.ColumnTypeNumber:
		b.WriteString("Answer with a single number.")
		if info := col.AdditionalTypeInformation; info != nil {
			if info.Currency != "" {
				fmt.Fprintf(&b, " Express amounts in %s.", info.Currency)
			}
			if info.Decimals != nil {
				fmt.Fprintf(&b, " Use %d decimal places.", *info.Decimals)
			}
		}
		b.WriteString("\n")
	case model.ColumnTypeLink:
		b.WriteString("Answer with a single URL.\n")
	case model.ColumnTypeSelect:
		b.WriteString("Answer with one category.")
		writeCategories(&b, col.CategoryNames())
	case model.ColumnTypeMultiSelect:
		b.WriteString("Answer with every category that applies.")
		writeCategories(&b, col.CategoryNames())
	}

	b.WriteString("Cite the URLs of the pages you used.")
	return b.String()
}

func writeCategories(b *strings.Builder, names []string) {
	if len(names) > 0 {
		fmt.Fprintf(b, " Existing categories: %s.", strings.Join(names, ", "))
	}
	b.WriteString("\n")
}

// knownFacts returns (label, value) pairs for the row's other non-empty cells.
func knownFacts(cc CellContext) [][2]string {
	var facts [][2]string
	if len(cc.Columns) > 0 {
		for _, c := range cc.Columns {
			if c.ID == cc.Column.ID {
				continue
			}
			if s := formatCell(cc.RowData[c.ID]); s != "" {
				facts = append(facts, [2]string{c.Name, s})
			}
		}
		return facts
	}

	keys := make([]string, 0, len(cc.RowData))
	for k := range cc.RowData {
		if k != cc.Column.ID {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s := formatCell(cc.RowData[k]); s != "" {
			facts = append(facts, [2]string{k, s})
		}
	}
	return facts
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, it := range t {
			if s := formatCell(it); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, model.MultiSeparator)
	case []string:
		return strings.Join(t, model.MultiSeparator)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
