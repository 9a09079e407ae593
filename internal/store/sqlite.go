package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/moritzWa/deeptable/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(ON)",
}

// NewSQLite opens a SQLite database file. Pragmas are applied through the DSN
// so every pooled connection gets them.
func NewSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	for _, p := range sqlitePragmas {
		dsn += sep + "_pragma=" + p
		sep = "&"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer at a time; the JSON updates below rely on it.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS tables (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	columns     TEXT NOT NULL DEFAULT '[]',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS select_items (
	id        TEXT PRIMARY KEY,
	table_id  TEXT NOT NULL REFERENCES tables(id) ON DELETE CASCADE,
	column_id TEXT NOT NULL,
	name      TEXT NOT NULL,
	name_key  TEXT NOT NULL,
	color     TEXT NOT NULL DEFAULT '',
	UNIQUE (table_id, column_id, name_key)
);

CREATE TABLE IF NOT EXISTS table_rows (
	id          TEXT PRIMARY KEY,
	table_id    TEXT NOT NULL REFERENCES tables(id) ON DELETE CASCADE,
	data        TEXT NOT NULL DEFAULT '{}',
	cell_errors TEXT NOT NULL DEFAULT '{}',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS enrichments (
	id              TEXT PRIMARY KEY,
	row_id          TEXT NOT NULL REFERENCES table_rows(id) ON DELETE CASCADE,
	column_id       TEXT NOT NULL,
	reasoning_steps TEXT NOT NULL DEFAULT '[]',
	sources         TEXT NOT NULL DEFAULT '[]',
	created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_select_items_column ON select_items(table_id, column_id);
CREATE INDEX IF NOT EXISTS idx_table_rows_table ON table_rows(table_id, created_at);
CREATE INDEX IF NOT EXISTS idx_enrichments_row ON enrichments(row_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Tables ---

func (s *SQLiteStore) GetTable(ctx context.Context, tableID string) (*model.Table, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, columns, created_at, updated_at FROM tables WHERE id = ?`,
		tableID,
	)
	t, err := scanSQLiteTable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("table", tableID)
	}
	if err != nil {
		return nil, err
	}

	vocab, err := s.vocabulary(ctx, `WHERE table_id = ?`, tableID)
	if err != nil {
		return nil, err
	}
	attachVocabulary(t, vocab[tableID])
	return t, nil
}

func (s *SQLiteStore) ListTables(ctx context.Context) ([]model.Table, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, columns, created_at, updated_at FROM tables ORDER BY created_at`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tables")
	}
	var tables []model.Table
	for rows.Next() {
		t, err := scanSQLiteTable(rows)
		if err != nil {
			rows.Close() //nolint:errcheck
			return nil, err
		}
		tables = append(tables, *t)
	}
	rows.Close() //nolint:errcheck
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list tables iterate")
	}

	vocab, err := s.vocabulary(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range tables {
		attachVocabulary(&tables[i], vocab[tables[i].ID])
	}
	return tables, nil
}

func (s *SQLiteStore) SaveTable(ctx context.Context, t *model.Table) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	for _, c := range t.Columns {
		if err := c.Validate(); err != nil {
			return eris.Wrap(err, "sqlite: save table")
		}
	}
	cols, err := columnsForStorage(t.Columns)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tables (id, name, description, columns, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			columns = excluded.columns,
			updated_at = excluded.updated_at`,
		t.ID, t.Name, t.Description, string(cols), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert table %s", t.ID)
	}

	for i := range t.Columns {
		c := &t.Columns[i]
		if !c.Type.IsCategorical() || len(c.SelectItems()) == 0 {
			continue
		}
		merged, err := s.AddSelectItems(ctx, t.ID, c.ID, c.SelectItems())
		if err != nil {
			return err
		}
		c.AdditionalTypeInformation.SelectItems = merged
	}
	return nil
}

// --- Rows ---

func (s *SQLiteStore) CreateRow(ctx context.Context, tableID string, data map[string]any) (*model.Row, error) {
	rows, err := s.CreateRows(ctx, tableID, []map[string]any{data})
	if err != nil {
		return nil, err
	}
	return &rows[0], nil
}

func (s *SQLiteStore) CreateRows(ctx context.Context, tableID string, data []map[string]any) ([]model.Row, error) {
	rows, encoded, err := newRows(tableID, data)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for i, r := range rows {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO table_rows (id, table_id, data, cell_errors, created_at, updated_at) VALUES (?, ?, ?, '{}', ?, ?)`,
			r.ID, tableID, string(encoded[i]), r.CreatedAt, r.UpdatedAt,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert row for table %s", tableID)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit rows")
	}
	return rows, nil
}

func (s *SQLiteStore) GetRow(ctx context.Context, rowID string) (*model.Row, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, table_id, data, cell_errors, created_at, updated_at FROM table_rows WHERE id = ?`,
		rowID,
	)
	r, err := scanSQLiteRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("row", rowID)
	}
	if err != nil {
		return nil, err
	}

	enr, err := s.enrichments(ctx, `WHERE row_id = ?`, rowID)
	if err != nil {
		return nil, err
	}
	if e := enr[rowID]; e != nil {
		r.Enrichments = e
	}
	return r, nil
}

func (s *SQLiteStore) ListRows(ctx context.Context, tableID string, filter RowFilter) ([]model.Row, error) {
	query := `SELECT id, table_id, data, cell_errors, created_at, updated_at FROM table_rows
		WHERE table_id = ? ORDER BY created_at, rowid LIMIT ?`
	args := []any{tableID, limitOrDefault(filter.Limit)}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rows")
	}
	var out []model.Row
	for rows.Next() {
		r, err := scanSQLiteRow(rows)
		if err != nil {
			rows.Close() //nolint:errcheck
			return nil, err
		}
		out = append(out, *r)
	}
	rows.Close() //nolint:errcheck
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list rows iterate")
	}

	enr, err := s.enrichments(ctx,
		`WHERE row_id IN (SELECT id FROM table_rows WHERE table_id = ?)`, tableID)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if e := enr[out[i].ID]; e != nil {
			out[i].Enrichments = e
		}
	}
	return out, nil
}

// --- Cells ---

func (s *SQLiteStore) SaveCellResult(ctx context.Context, rowID, columnID string, value any, meta model.EnrichmentMetadata) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal cell value")
	}
	meta, steps, sources, err := prepareEnrichment(columnID, meta)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE table_rows SET
			data = json_set(data, '$."' || ? || '"', json(?)),
			cell_errors = json_remove(cell_errors, '$."' || ? || '"'),
			updated_at = ?
		 WHERE id = ?`,
		columnID, string(valueJSON), columnID, time.Now().UTC(), rowID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set cell %s/%s", rowID, columnID)
	}
	if err := checkRowsAffected(res, "row", rowID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO enrichments (id, row_id, column_id, reasoning_steps, sources, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		meta.ID, rowID, columnID, string(steps), string(sources), meta.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert enrichment for row %s", rowID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit cell result")
}

func (s *SQLiteStore) SetCellError(ctx context.Context, rowID, columnID, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE table_rows SET cell_errors = json_set(cell_errors, '$."' || ? || '"', ?), updated_at = ? WHERE id = ?`,
		columnID, msg, time.Now().UTC(), rowID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set cell error %s/%s", rowID, columnID)
	}
	return checkRowsAffected(res, "row", rowID)
}

// --- Vocabulary ---

func (s *SQLiteStore) AddSelectItems(ctx context.Context, tableID, columnID string, items []model.SelectItem) ([]model.SelectItem, error) {
	for _, it := range items {
		if strings.TrimSpace(it.Name) == "" {
			continue
		}
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO select_items (id, table_id, column_id, name, name_key, color)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (table_id, column_id, name_key) DO NOTHING`,
			it.ID, tableID, columnID, it.Name, model.NameKey(it.Name), it.Color,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: add select item %q", it.Name)
		}
	}

	vocab, err := s.vocabulary(ctx, `WHERE table_id = ? AND column_id = ?`, tableID, columnID)
	if err != nil {
		return nil, err
	}
	merged := vocab[tableID][columnID]
	if merged == nil {
		merged = []model.SelectItem{}
	}
	return merged, nil
}

// vocabulary loads select items grouped by table id then column id.
func (s *SQLiteStore) vocabulary(ctx context.Context, where string, args ...any) (map[string]map[string][]model.SelectItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT table_id, column_id, id, name, color FROM select_items `+where+` ORDER BY rowid`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load select items")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]map[string][]model.SelectItem)
	for rows.Next() {
		var tableID, columnID string
		var it model.SelectItem
		if err := rows.Scan(&tableID, &columnID, &it.ID, &it.Name, &it.Color); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan select item")
		}
		if out[tableID] == nil {
			out[tableID] = make(map[string][]model.SelectItem)
		}
		out[tableID][columnID] = append(out[tableID][columnID], it)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: select items iterate")
}

// enrichments loads enrichment entries grouped by row id, oldest first.
func (s *SQLiteStore) enrichments(ctx context.Context, where string, args ...any) (map[string][]model.EnrichmentMetadata, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, row_id, column_id, reasoning_steps, sources, created_at FROM enrichments `+where+` ORDER BY created_at, rowid`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load enrichments")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string][]model.EnrichmentMetadata)
	for rows.Next() {
		var rowID, steps, sources string
		var e model.EnrichmentMetadata
		if err := rows.Scan(&e.ID, &rowID, &e.ColumnID, &steps, &sources, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan enrichment")
		}
		if err := decodeEnrichment(&e, []byte(steps), []byte(sources)); err != nil {
			return nil, err
		}
		out[rowID] = append(out[rowID], e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: enrichments iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteTable(row scannable) (*model.Table, error) {
	var t model.Table
	var cols string
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &cols, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan table")
	}
	if err := json.Unmarshal([]byte(cols), &t.Columns); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal columns")
	}
	return &t, nil
}

func scanSQLiteRow(row scannable) (*model.Row, error) {
	var r model.Row
	var data, cellErrors string
	if err := row.Scan(&r.ID, &r.TableID, &data, &cellErrors, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan row")
	}
	if err := decodeRowJSON(&r, []byte(data), []byte(cellErrors)); err != nil {
		return nil, err
	}
	return &r, nil
}
