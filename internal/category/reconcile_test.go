package category

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moritzWa/deeptable/internal/model"
)

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("item-%d", n)
	}
}

func TestReconcile_MatchesExistingCaseInsensitive(t *testing.T) {
	t.Parallel()

	r := New(WithIDFunc(seqIDs()))
	existing := []model.SelectItem{{ID: "1", Name: "Italian", Color: Palette[0]}}

	rec, err := r.Reconcile(model.ColumnTypeSelect, model.SingleValue("italian"), existing)
	require.NoError(t, err)

	assert.Equal(t, model.SingleValue("Italian"), rec.Final)
	assert.Nil(t, rec.UpdatedSelectItems)
	assert.Empty(t, rec.Added)
}

func TestReconcile_MultiSelectCreatesItems(t *testing.T) {
	t.Parallel()

	r := New(WithIDFunc(seqIDs()))

	rec, err := r.Reconcile(model.ColumnTypeMultiSelect, model.MultiValue([]string{"Casual", "Upscale"}), nil)
	require.NoError(t, err)

	require.Len(t, rec.Added, 2)
	require.Len(t, rec.UpdatedSelectItems, 2)
	assert.NotEqual(t, rec.Added[0].Color, rec.Added[1].Color)
	assert.Equal(t, "Casual", rec.Added[0].Name)
	assert.Equal(t, "item-1", rec.Added[0].ID)
	assert.Equal(t, "Upscale", rec.Added[1].Name)
	assert.Equal(t, "Casual, Upscale", rec.Final.Stored())
}

func TestReconcile_MixedMatchAndNew(t *testing.T) {
	t.Parallel()

	r := New(WithIDFunc(seqIDs()))
	existing := []model.SelectItem{
		{ID: "a", Name: "Casual", Color: Palette[0]},
		{ID: "b", Name: "Fine Dining", Color: Palette[1]},
	}

	rec, err := r.Reconcile(model.ColumnTypeMultiSelect,
		model.MultiValue([]string{"fine dining", "Late Night", "CASUAL"}), existing)
	require.NoError(t, err)

	assert.Equal(t, []string{"Fine Dining", "Late Night", "Casual"}, rec.Final.Items)
	require.Len(t, rec.Added, 1)
	assert.Equal(t, "Late Night", rec.Added[0].Name)
	assert.Equal(t, Palette[2], rec.Added[0].Color)
	require.Len(t, rec.UpdatedSelectItems, 3)
	assert.Equal(t, existing, rec.UpdatedSelectItems[:2])
}

func TestReconcile_EmptySuggestions(t *testing.T) {
	t.Parallel()

	r := New()

	rec, err := r.Reconcile(model.ColumnTypeSelect, model.SingleValue(""), nil)
	require.NoError(t, err)
	assert.Equal(t, model.SingleValue(""), rec.Final)
	assert.Nil(t, rec.UpdatedSelectItems)

	rec, err = r.Reconcile(model.ColumnTypeMultiSelect, model.MultiValue(nil), nil)
	require.NoError(t, err)
	assert.Equal(t, model.ValueMulti, rec.Final.Kind)
	assert.Empty(t, rec.Final.Items)
	assert.Equal(t, "", rec.Final.Stored())
	assert.Nil(t, rec.UpdatedSelectItems)
}

func TestReconcile_DedupesSuggestions(t *testing.T) {
	t.Parallel()

	r := New(WithIDFunc(seqIDs()))

	rec, err := r.Reconcile(model.ColumnTypeMultiSelect, model.MultiValue([]string{"Vegan", " vegan ", "", "VEGAN"}), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Vegan"}, rec.Final.Items)
	assert.Len(t, rec.Added, 1)
}

func TestReconcile_RejectsNonCategorical(t *testing.T) {
	t.Parallel()

	_, err := New().Reconcile(model.ColumnTypeText, model.SingleValue("x"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no vocabulary")
}

func TestReconcile_ColorNeverReusedUntilPaletteExhausted(t *testing.T) {
	t.Parallel()

	r := New(WithIDFunc(seqIDs()))

	// Existing items occupy every other palette color, in mixed case.
	var existing []model.SelectItem
	for i := 0; i < len(Palette); i += 2 {
		existing = append(existing, model.SelectItem{
			ID:    fmt.Sprintf("e%d", i),
			Name:  fmt.Sprintf("Existing %d", i),
			Color: strings.ToLower(Palette[i]),
		})
	}
	free := len(Palette) - len(existing)

	labels := make([]string, free)
	for i := range labels {
		labels[i] = fmt.Sprintf("New %d", i)
	}

	rec, err := r.Reconcile(model.ColumnTypeMultiSelect, model.MultiValue(labels), existing)
	require.NoError(t, err)
	require.Len(t, rec.Added, free)

	used := make(map[string]bool)
	for _, it := range existing {
		used[strings.ToUpper(it.Color)] = true
	}
	for _, it := range rec.Added {
		key := strings.ToUpper(it.Color)
		assert.False(t, used[key], "color %s reused", it.Color)
		used[key] = true
	}
	assert.Len(t, used, len(Palette))
}

func TestReconcile_PaletteExhaustedFallsBackToRandom(t *testing.T) {
	t.Parallel()

	var picks []int
	r := New(WithIDFunc(seqIDs()), WithRandFunc(func(n int) int {
		picks = append(picks, n)
		return 3
	}))

	existing := make([]model.SelectItem, len(Palette))
	for i, c := range Palette {
		existing[i] = model.SelectItem{ID: fmt.Sprint(i), Name: fmt.Sprintf("c%d", i), Color: c}
	}

	rec, err := r.Reconcile(model.ColumnTypeSelect, model.SingleValue("Overflow"), existing)
	require.NoError(t, err)
	require.Len(t, rec.Added, 1)
	assert.Equal(t, Palette[3], rec.Added[0].Color)
	assert.Equal(t, []int{len(Palette)}, picks)
}
