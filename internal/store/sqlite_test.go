package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moritzWa/deeptable/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sampleTable() *model.Table {
	return &model.Table{
		ID:          "tbl-1",
		Name:        "AI startups",
		Description: "Seed-stage AI companies",
		Columns: []model.Column{
			{ID: "name", Name: "Company", Type: model.ColumnTypeText},
			{ID: "founded", Name: "Founded", Type: model.ColumnTypeNumber, Description: "Year founded"},
			{
				ID:   "sector",
				Name: "Sector",
				Type: model.ColumnTypeSelect,
				AdditionalTypeInformation: &model.TypeInfo{
					SelectItems: []model.SelectItem{{ID: "s1", Name: "AI", Color: "#4f46e5"}},
				},
			},
			{ID: "tags", Name: "Tags", Type: model.ColumnTypeMultiSelect},
		},
	}
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_SaveAndGetTable(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	tbl := sampleTable()
	require.NoError(t, st.SaveTable(ctx, tbl))
	assert.False(t, tbl.CreatedAt.IsZero())

	got, err := st.GetTable(ctx, "tbl-1")
	require.NoError(t, err)
	assert.Equal(t, "AI startups", got.Name)
	assert.Equal(t, "Seed-stage AI companies", got.Description)
	require.Len(t, got.Columns, 4)

	assert.Nil(t, got.Columns[0].AdditionalTypeInformation)
	assert.Equal(t, []model.SelectItem{{ID: "s1", Name: "AI", Color: "#4f46e5"}}, got.Columns[2].SelectItems())
	// Categorical columns always carry a (possibly empty) vocabulary.
	require.NotNil(t, got.Columns[3].AdditionalTypeInformation)
	assert.Empty(t, got.Columns[3].SelectItems())
}

func TestSQLite_SaveTableUpdatesInPlace(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	tbl := sampleTable()
	require.NoError(t, st.SaveTable(ctx, tbl))
	created := tbl.CreatedAt

	tbl.Name = "Renamed"
	tbl.Columns[2].AdditionalTypeInformation.SelectItems = []model.SelectItem{{Name: "Fintech", Color: "#059669"}}
	require.NoError(t, st.SaveTable(ctx, tbl))

	got, err := st.GetTable(ctx, "tbl-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, []string{"AI", "Fintech"}, got.Columns[2].CategoryNames())
	assert.WithinDuration(t, created, got.CreatedAt, time.Second)

	tables, err := st.ListTables(ctx)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, []string{"AI", "Fintech"}, tables[0].Columns[2].CategoryNames())
}

func TestSQLite_SaveTableRejectsInvalidColumn(t *testing.T) {
	st := newTestSQLiteStore(t)
	tbl := sampleTable()
	tbl.Columns[1].Type = "date"

	err := st.SaveTable(context.Background(), tbl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestSQLite_GetTableNotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetTable(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "table missing")
}

func TestSQLite_AddSelectItemsCaseInsensitive(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveTable(ctx, sampleTable()))

	merged, err := st.AddSelectItems(ctx, "tbl-1", "sector", []model.SelectItem{
		{Name: "ai", Color: "#000000"},
		{Name: "Fintech", Color: "#059669"},
		{Name: "  "},
	})
	require.NoError(t, err)
	require.Len(t, merged, 2)
	assert.Equal(t, "AI", merged[0].Name)
	assert.Equal(t, "#4f46e5", merged[0].Color)
	assert.Equal(t, "Fintech", merged[1].Name)
	assert.NotEmpty(t, merged[1].ID)
}

func TestSQLite_AddSelectItemsConcurrent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveTable(ctx, sampleTable()))

	names := []string{"Robotics", "robotics", "ROBOTICS", "roBotics", "RoBoTiCs"}
	var wg sync.WaitGroup
	errs := make([]error, len(names))
	for i, n := range names {
		wg.Add(1)
		go func(i int, n string) {
			defer wg.Done()
			_, errs[i] = st.AddSelectItems(ctx, "tbl-1", "tags", []model.SelectItem{{Name: n}})
		}(i, n)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	got, err := st.GetTable(ctx, "tbl-1")
	require.NoError(t, err)
	items := got.Columns[3].SelectItems()
	require.Len(t, items, 1)
	assert.Equal(t, "robotics", model.NameKey(items[0].Name))
}

func TestSQLite_CreateAndListRows(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveTable(ctx, sampleTable()))

	var data []map[string]any
	for i := 0; i < 5; i++ {
		data = append(data, map[string]any{"name": fmt.Sprintf("Company %d", i)})
	}
	created, err := st.CreateRows(ctx, "tbl-1", data)
	require.NoError(t, err)
	require.Len(t, created, 5)

	rows, err := st.ListRows(ctx, "tbl-1", RowFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for i, r := range rows {
		assert.Equal(t, created[i].ID, r.ID)
		assert.Equal(t, fmt.Sprintf("Company %d", i), r.Data["name"])
		assert.Empty(t, r.Enrichments)
	}

	page, err := st.ListRows(ctx, "tbl-1", RowFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, created[2].ID, page[0].ID)
}

func TestSQLite_CreateRowUnknownTable(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.CreateRow(context.Background(), "missing", nil)
	require.Error(t, err)
}

func TestSQLite_SaveCellResult(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveTable(ctx, sampleTable()))

	row, err := st.CreateRow(ctx, "tbl-1", map[string]any{"name": "Acme"})
	require.NoError(t, err)

	require.NoError(t, st.SetCellError(ctx, row.ID, "founded", "error enriching cell"))
	got, err := st.GetRow(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"founded": "error enriching cell"}, got.CellErrors)

	meta := model.EnrichmentMetadata{
		ReasoningSteps: []string{"two sources agree"},
		Sources:        []string{"https://acme.com/about"},
	}
	require.NoError(t, st.SaveCellResult(ctx, row.ID, "founded", float64(2015), meta))
	require.NoError(t, st.SaveCellResult(ctx, row.ID, "sector", "AI", model.EnrichmentMetadata{}))

	got, err = st.GetRow(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Data["name"])
	assert.Equal(t, float64(2015), got.Data["founded"])
	assert.Equal(t, "AI", got.Data["sector"])
	assert.Nil(t, got.CellErrors)

	require.Len(t, got.Enrichments, 2)
	assert.Equal(t, "founded", got.Enrichments[0].ColumnID)
	assert.Equal(t, []string{"two sources agree"}, got.Enrichments[0].ReasoningSteps)
	assert.Equal(t, []string{"https://acme.com/about"}, got.Enrichments[0].Sources)
	assert.NotEmpty(t, got.Enrichments[0].ID)
	assert.Equal(t, "sector", got.Enrichments[1].ColumnID)
	assert.Equal(t, []string{}, got.Enrichments[1].Sources)

	latest, ok := got.LatestEnrichment("founded")
	require.True(t, ok)
	assert.Equal(t, got.Enrichments[0].ID, latest.ID)

	rows, err := st.ListRows(ctx, "tbl-1", RowFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Len(t, rows[0].Enrichments, 2)
}

func TestSQLite_SaveCellResultAppendsHistory(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveTable(ctx, sampleTable()))
	row, err := st.CreateRow(ctx, "tbl-1", nil)
	require.NoError(t, err)

	require.NoError(t, st.SaveCellResult(ctx, row.ID, "name", "Acme", model.EnrichmentMetadata{}))
	require.NoError(t, st.SaveCellResult(ctx, row.ID, "name", "Acme Inc", model.EnrichmentMetadata{}))

	got, err := st.GetRow(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Inc", got.Data["name"])
	assert.Len(t, got.Enrichments, 2)
}

func TestSQLite_ConcurrentCellsOnOneRow(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveTable(ctx, sampleTable()))
	row, err := st.CreateRow(ctx, "tbl-1", nil)
	require.NoError(t, err)

	cols := []string{"name", "founded", "sector", "tags"}
	var wg sync.WaitGroup
	for _, c := range cols {
		wg.Add(1)
		go func(c string) {
			defer wg.Done()
			assert.NoError(t, st.SaveCellResult(ctx, row.ID, c, "v-"+c, model.EnrichmentMetadata{}))
		}(c)
	}
	wg.Wait()

	got, err := st.GetRow(ctx, row.ID)
	require.NoError(t, err)
	for _, c := range cols {
		assert.Equal(t, "v-"+c, got.Data[c])
	}
}

func TestSQLite_CellOpsRowNotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	err := st.SaveCellResult(ctx, "missing", "name", "x", model.EnrichmentMetadata{})
	assert.True(t, IsNotFound(err))

	err = st.SetCellError(ctx, "missing", "name", "boom")
	assert.True(t, IsNotFound(err))

	_, err = st.GetRow(ctx, "missing")
	assert.True(t, IsNotFound(err))
}
