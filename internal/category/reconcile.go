// Package category reconciles suggested labels against a column's select vocabulary.
package category

import (
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/moritzWa/deeptable/internal/model"
)

// Palette is the fixed set of colors assigned to new select items, in
// preference order.
var Palette = []string{
	"#E57373", // red
	"#64B5F6", // blue
	"#81C784", // green
	"#FFD54F", // amber
	"#BA68C8", // purple
	"#4DB6AC", // teal
	"#FF8A65", // deep orange
	"#A1887F", // brown
	"#90A4AE", // blue grey
	"#F06292", // pink
}

// Reconciliation is the outcome of mapping suggested labels onto a vocabulary.
type Reconciliation struct {
	// Final holds the canonicalized value: a text value for select columns,
	// a multi value for multiSelect columns.
	Final model.Value
	// UpdatedSelectItems is the full vocabulary after additions. It is nil
	// when nothing was added so callers can skip the write.
	UpdatedSelectItems []model.SelectItem
	// Added lists only the newly created items.
	Added []model.SelectItem
}

// Reconciler maps labels onto existing select items. The zero value is not
// usable; use New.
type Reconciler struct {
	newID   func() string
	randInt func(n int) int
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithIDFunc overrides select item id generation.
func WithIDFunc(fn func() string) Option {
	return func(r *Reconciler) {
		r.newID = fn
	}
}

// WithRandFunc overrides the random palette pick used once every color is taken.
func WithRandFunc(fn func(n int) int) Option {
	return func(r *Reconciler) {
		r.randInt = fn
	}
}

// New creates a Reconciler.
func New(opts ...Option) *Reconciler {
	r := &Reconciler{
		newID:   func() string { return uuid.New().String() },
		randInt: rand.IntN,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Reconcile applies the suggested value to the existing vocabulary of a
// select or multiSelect column. Matching is case-insensitive; matched labels
// take the stored casing, unmatched labels become new items.
func (r *Reconciler) Reconcile(columnType model.ColumnType, suggested model.Value, existing []model.SelectItem) (*Reconciliation, error) {
	if !columnType.IsCategorical() {
		return nil, eris.Errorf("category: column type %q has no vocabulary", columnType)
	}

	labels := normalize(suggested.Labels())

	byKey := make(map[string]model.SelectItem, len(existing))
	used := make(map[string]bool, len(existing))
	for _, it := range existing {
		byKey[model.NameKey(it.Name)] = it
		used[strings.ToUpper(it.Color)] = true
	}

	var added []model.SelectItem
	final := make([]string, 0, len(labels))
	for _, label := range labels {
		key := model.NameKey(label)
		if it, ok := byKey[key]; ok {
			final = append(final, it.Name)
			continue
		}
		item := model.SelectItem{
			ID:    r.newID(),
			Name:  label,
			Color: r.pickColor(used),
		}
		used[strings.ToUpper(item.Color)] = true
		byKey[key] = item
		added = append(added, item)
		final = append(final, item.Name)
	}

	rec := &Reconciliation{Added: added}
	if columnType == model.ColumnTypeSelect {
		first := ""
		if len(final) > 0 {
			first = final[0]
		}
		rec.Final = model.SingleValue(first)
	} else {
		rec.Final = model.MultiValue(final)
	}

	if len(added) > 0 {
		updated := make([]model.SelectItem, 0, len(existing)+len(added))
		updated = append(updated, existing...)
		updated = append(updated, added...)
		rec.UpdatedSelectItems = updated
	}
	return rec, nil
}

// pickColor returns the first palette color not in used, or a random palette
// color once every entry is taken.
func (r *Reconciler) pickColor(used map[string]bool) string {
	for _, c := range Palette {
		if !used[strings.ToUpper(c)] {
			return c
		}
	}
	return Palette[r.randInt(len(Palette))]
}

// normalize trims labels, drops empties, and removes case-insensitive
// duplicates while keeping the first spelling.
func normalize(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		key := model.NameKey(l)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, l)
	}
	return out
}
