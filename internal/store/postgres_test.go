package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moritzWa/deeptable/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var itemCols = []string{"table_id", "column_id", "id", "name", "color"}

func TestPostgresStore_GetTable_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, name, description, columns, created_at, updated_at FROM tables WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetTable(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetTable_AttachesVocabulary(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	cols := []byte(`[{"id":"sector","name":"Sector","type":"select","description":""},{"id":"name","name":"Name","type":"text","description":""}]`)
	mock.ExpectQuery(`FROM tables WHERE id = \$1`).
		WithArgs("tbl-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "description", "columns", "created_at", "updated_at"}).
			AddRow("tbl-1", "AI startups", "", cols, now, now))
	mock.ExpectQuery(`FROM select_items\s+WHERE table_id = \$1 ORDER BY seq`).
		WithArgs("tbl-1").
		WillReturnRows(pgxmock.NewRows(itemCols).
			AddRow("tbl-1", "sector", "s1", "AI", "#4f46e5").
			AddRow("tbl-1", "sector", "s2", "Fintech", "#059669"))

	tbl, err := s.GetTable(context.Background(), "tbl-1")
	require.NoError(t, err)
	require.Len(t, tbl.Columns, 2)
	assert.Equal(t, []string{"AI", "Fintech"}, tbl.Columns[0].CategoryNames())
	assert.Nil(t, tbl.Columns[1].AdditionalTypeInformation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveCellResult(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE table_rows SET\s+data = jsonb_set`).
		WithArgs("founded", []byte(`2015`), pgxmock.AnyArg(), "row-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO enrichments`).
		WithArgs(pgxmock.AnyArg(), "row-1", "founded", []byte(`["a"]`), []byte(`[]`), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.SaveCellResult(context.Background(), "row-1", "founded", 2015, model.EnrichmentMetadata{
		ReasoningSteps: []string{"a"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveCellResult_RowNotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE table_rows SET`).
		WithArgs("founded", pgxmock.AnyArg(), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.SaveCellResult(context.Background(), "missing", "founded", 1, model.EnrichmentMetadata{})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetCellError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`cell_errors = jsonb_set\(cell_errors, ARRAY\[\$1::text\], to_jsonb\(\$2::text\)\)`).
		WithArgs("founded", "error enriching cell", pgxmock.AnyArg(), "row-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.SetCellError(context.Background(), "row-1", "founded", "error enriching cell"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddSelectItems(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`ON CONFLICT \(table_id, column_id, name_key\) DO NOTHING`).
		WithArgs(pgxmock.AnyArg(), "tbl-1", "sector", "ai", "ai", "#000000").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec(`ON CONFLICT \(table_id, column_id, name_key\) DO NOTHING`).
		WithArgs("s9", "tbl-1", "sector", "Robotics", "robotics", "#dc2626").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`FROM select_items\s+WHERE table_id = \$1 AND column_id = \$2`).
		WithArgs("tbl-1", "sector").
		WillReturnRows(pgxmock.NewRows(itemCols).
			AddRow("tbl-1", "sector", "s1", "AI", "#4f46e5").
			AddRow("tbl-1", "sector", "s9", "Robotics", "#dc2626"))
	mock.ExpectCommit()

	merged, err := s.AddSelectItems(context.Background(), "tbl-1", "sector", []model.SelectItem{
		{Name: "ai", Color: "#000000"},
		{ID: "s9", Name: "Robotics", Color: "#dc2626"},
	})
	require.NoError(t, err)
	assert.Equal(t, []model.SelectItem{
		{ID: "s1", Name: "AI", Color: "#4f46e5"},
		{ID: "s9", Name: "Robotics", Color: "#dc2626"},
	}, merged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRows(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"table_rows"},
		[]string{"id", "table_id", "data", "cell_errors", "created_at", "updated_at"}).
		WillReturnResult(2)

	rows, err := s.CreateRows(context.Background(), "tbl-1", []map[string]any{
		{"name": "Acme"},
		{"name": "Globex"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Acme", rows[0].Data["name"])
	assert.True(t, rows[0].CreatedAt.Before(rows[1].CreatedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRow(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM table_rows WHERE id = \$1`).
		WithArgs("row-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "table_id", "data", "cell_errors", "created_at", "updated_at"}).
			AddRow("row-1", "tbl-1", []byte(`{"name":"Acme"}`), []byte(`{"founded":"error enriching cell"}`), now, now))
	mock.ExpectQuery(`FROM enrichments\s+WHERE row_id = \$1 ORDER BY seq`).
		WithArgs("row-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "row_id", "column_id", "reasoning_steps", "sources", "created_at"}).
			AddRow("e1", "row-1", "name", []byte(`["x"]`), []byte(`["https://acme.com"]`), now))

	row, err := s.GetRow(context.Background(), "row-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", row.Data["name"])
	assert.Equal(t, "error enriching cell", row.CellErrors["founded"])
	require.Len(t, row.Enrichments, 1)
	assert.Equal(t, []string{"https://acme.com"}, row.Enrichments[0].Sources)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRows_Paging(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM table_rows\s+WHERE table_id = \$1 ORDER BY created_at, id LIMIT \$2 OFFSET \$3`).
		WithArgs("tbl-1", 1000, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "table_id", "data", "cell_errors", "created_at", "updated_at"}))
	mock.ExpectQuery(`FROM enrichments e\s+JOIN table_rows r`).
		WithArgs("tbl-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "row_id", "column_id", "reasoning_steps", "sources", "created_at"}))

	rows, err := s.ListRows(context.Background(), "tbl-1", RowFilter{Offset: -5})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
