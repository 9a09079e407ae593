package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/moritzWa/deeptable/internal/db"
	"github.com/moritzWa/deeptable/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

const (
	pgGetTable   = `SELECT id, name, description, columns, created_at, updated_at FROM tables WHERE id = $1`
	pgListTables = `SELECT id, name, description, columns, created_at, updated_at FROM tables ORDER BY created_at`

	pgUpsertTable = `INSERT INTO tables (id, name, description, columns, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			columns = EXCLUDED.columns,
			updated_at = EXCLUDED.updated_at`

	pgGetRow = `SELECT id, table_id, data, cell_errors, created_at, updated_at FROM table_rows WHERE id = $1`

	pgListRows = `SELECT id, table_id, data, cell_errors, created_at, updated_at FROM table_rows
		WHERE table_id = $1 ORDER BY created_at, id LIMIT $2 OFFSET $3`

	pgSetCell = `UPDATE table_rows SET
			data = jsonb_set(data, ARRAY[$1::text], $2::jsonb),
			cell_errors = cell_errors - $1::text,
			updated_at = $3
		WHERE id = $4`

	pgSetCellError = `UPDATE table_rows SET
			cell_errors = jsonb_set(cell_errors, ARRAY[$1::text], to_jsonb($2::text)),
			updated_at = $3
		WHERE id = $4`

	pgInsertEnrichment = `INSERT INTO enrichments (id, row_id, column_id, reasoning_steps, sources, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	pgRowEnrichments = `SELECT id, row_id, column_id, reasoning_steps, sources, created_at FROM enrichments
		WHERE row_id = $1 ORDER BY seq`

	pgTableEnrichments = `SELECT e.id, e.row_id, e.column_id, e.reasoning_steps, e.sources, e.created_at FROM enrichments e
		JOIN table_rows r ON r.id = e.row_id WHERE r.table_id = $1 ORDER BY e.seq`

	pgAddSelectItem = `INSERT INTO select_items (id, table_id, column_id, name, name_key, color)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (table_id, column_id, name_key) DO NOTHING`

	pgColumnItems = `SELECT table_id, column_id, id, name, color FROM select_items
		WHERE table_id = $1 AND column_id = $2 ORDER BY seq`

	pgTableItems = `SELECT table_id, column_id, id, name, color FROM select_items
		WHERE table_id = $1 ORDER BY seq`

	pgAllItems = `SELECT table_id, column_id, id, name, color FROM select_items ORDER BY seq`
)

// preparedStatements are prepared on each new connection; they cover the
// per-cell hot path.
var preparedStatements = map[string]string{
	"get_table":         pgGetTable,
	"get_row":           pgGetRow,
	"set_cell":          pgSetCell,
	"set_cell_error":    pgSetCellError,
	"insert_enrichment": pgInsertEnrichment,
	"add_select_item":   pgAddSelectItem,
	"column_items":      pgColumnItems,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				// Tables may not exist before the first migrate.
				if strings.Contains(err.Error(), "does not exist") {
					continue
				}
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS tables (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	columns     JSONB NOT NULL DEFAULT '[]',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS select_items (
	id        TEXT PRIMARY KEY,
	seq       BIGSERIAL,
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
	data        JSONB NOT NULL DEFAULT '{}',
	cell_errors JSONB NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS enrichments (
	id              TEXT PRIMARY KEY,
	seq             BIGSERIAL,
	row_id          TEXT NOT NULL REFERENCES table_rows(id) ON DELETE CASCADE,
	column_id       TEXT NOT NULL,
	reasoning_steps JSONB NOT NULL DEFAULT '[]',
	sources         JSONB NOT NULL DEFAULT '[]',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_select_items_column ON select_items(table_id, column_id);
CREATE INDEX IF NOT EXISTS idx_table_rows_table ON table_rows(table_id, created_at);
CREATE INDEX IF NOT EXISTS idx_enrichments_row ON enrichments(row_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Tables ---

func (s *PostgresStore) GetTable(ctx context.Context, tableID string) (*model.Table, error) {
	t, err := scanPgTable(s.pool.QueryRow(ctx, pgGetTable, tableID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("table", tableID)
	}
	if err != nil {
		return nil, err
	}

	vocab, err := s.vocabulary(ctx, pgTableItems, tableID)
	if err != nil {
		return nil, err
	}
	attachVocabulary(t, vocab[tableID])
	return t, nil
}

func (s *PostgresStore) ListTables(ctx context.Context) ([]model.Table, error) {
	rows, err := s.pool.Query(ctx, pgListTables)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tables")
	}
	defer rows.Close()

	var tables []model.Table
	for rows.Next() {
		t, err := scanPgTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list tables iterate")
	}

	vocab, err := s.vocabulary(ctx, pgAllItems)
	if err != nil {
		return nil, err
	}
	for i := range tables {
		attachVocabulary(&tables[i], vocab[tables[i].ID])
	}
	return tables, nil
}

func (s *PostgresStore) SaveTable(ctx context.Context, t *model.Table) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	for _, c := range t.Columns {
		if err := c.Validate(); err != nil {
			return eris.Wrap(err, "postgres: save table")
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

	if _, err := s.pool.Exec(ctx, pgUpsertTable, t.ID, t.Name, t.Description, cols, t.CreatedAt, t.UpdatedAt); err != nil {
		return eris.Wrapf(err, "postgres: upsert table %s", t.ID)
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

func (s *PostgresStore) CreateRow(ctx context.Context, tableID string, data map[string]any) (*model.Row, error) {
	rows, err := s.CreateRows(ctx, tableID, []map[string]any{data})
	if err != nil {
		return nil, err
	}
	return &rows[0], nil
}

func (s *PostgresStore) CreateRows(ctx context.Context, tableID string, data []map[string]any) ([]model.Row, error) {
	rows, encoded, err := newRows(tableID, data)
	if err != nil {
		return nil, err
	}

	copyRows := make([][]any, len(rows))
	for i, r := range rows {
		copyRows[i] = []any{r.ID, tableID, encoded[i], []byte(`{}`), r.CreatedAt, r.UpdatedAt}
	}
	_, err = db.CopyFrom(ctx, s.pool, "table_rows",
		[]string{"id", "table_id", "data", "cell_errors", "created_at", "updated_at"}, copyRows)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert rows for table %s", tableID)
	}
	return rows, nil
}

func (s *PostgresStore) GetRow(ctx context.Context, rowID string) (*model.Row, error) {
	r, err := scanPgRow(s.pool.QueryRow(ctx, pgGetRow, rowID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("row", rowID)
	}
	if err != nil {
		return nil, err
	}

	enr, err := s.enrichments(ctx, pgRowEnrichments, rowID)
	if err != nil {
		return nil, err
	}
	if e := enr[rowID]; e != nil {
		r.Enrichments = e
	}
	return r, nil
}

func (s *PostgresStore) ListRows(ctx context.Context, tableID string, filter RowFilter) ([]model.Row, error) {
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, pgListRows, tableID, limitOrDefault(filter.Limit), offset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rows")
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		r, err := scanPgRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list rows iterate")
	}

	enr, err := s.enrichments(ctx, pgTableEnrichments, tableID)
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

func (s *PostgresStore) SaveCellResult(ctx context.Context, rowID, columnID string, value any, meta model.EnrichmentMetadata) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal cell value")
	}
	meta, steps, sources, err := prepareEnrichment(columnID, meta)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, pgSetCell, columnID, valueJSON, time.Now().UTC(), rowID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set cell %s/%s", rowID, columnID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("row", rowID)
	}

	if _, err := tx.Exec(ctx, pgInsertEnrichment, meta.ID, rowID, columnID, steps, sources, meta.CreatedAt); err != nil {
		return eris.Wrapf(err, "postgres: insert enrichment for row %s", rowID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit cell result")
}

func (s *PostgresStore) SetCellError(ctx context.Context, rowID, columnID, msg string) error {
	tag, err := s.pool.Exec(ctx, pgSetCellError, columnID, msg, time.Now().UTC(), rowID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set cell error %s/%s", rowID, columnID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("row", rowID)
	}
	return nil
}

// --- Vocabulary ---

func (s *PostgresStore) AddSelectItems(ctx context.Context, tableID, columnID string, items []model.SelectItem) ([]model.SelectItem, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, it := range items {
		if strings.TrimSpace(it.Name) == "" {
			continue
		}
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		if _, err := tx.Exec(ctx, pgAddSelectItem, it.ID, tableID, columnID, it.Name, model.NameKey(it.Name), it.Color); err != nil {
			return nil, eris.Wrapf(err, "postgres: add select item %q", it.Name)
		}
	}

	rows, err := tx.Query(ctx, pgColumnItems, tableID, columnID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load select items")
	}
	merged, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit select items")
	}

	out := merged[tableID][columnID]
	if out == nil {
		out = []model.SelectItem{}
	}
	return out, nil
}

func (s *PostgresStore) vocabulary(ctx context.Context, query string, args ...any) (map[string]map[string][]model.SelectItem, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load select items")
	}
	return collectItems(rows)
}

func collectItems(rows pgx.Rows) (map[string]map[string][]model.SelectItem, error) {
	defer rows.Close()
	out := make(map[string]map[string][]model.SelectItem)
	for rows.Next() {
		var tableID, columnID string
		var it model.SelectItem
		if err := rows.Scan(&tableID, &columnID, &it.ID, &it.Name, &it.Color); err != nil {
			return nil, eris.Wrap(err, "postgres: scan select item")
		}
		if out[tableID] == nil {
			out[tableID] = make(map[string][]model.SelectItem)
		}
		out[tableID][columnID] = append(out[tableID][columnID], it)
	}
	return out, eris.Wrap(rows.Err(), "postgres: select items iterate")
}

func (s *PostgresStore) enrichments(ctx context.Context, query string, arg string) (map[string][]model.EnrichmentMetadata, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load enrichments")
	}
	defer rows.Close()

	out := make(map[string][]model.EnrichmentMetadata)
	for rows.Next() {
		var rowID string
		var steps, sources []byte
		var e model.EnrichmentMetadata
		if err := rows.Scan(&e.ID, &rowID, &e.ColumnID, &steps, &sources, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan enrichment")
		}
		if err := decodeEnrichment(&e, steps, sources); err != nil {
			return nil, err
		}
		out[rowID] = append(out[rowID], e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: enrichments iterate")
}

func scanPgTable(row pgx.Row) (*model.Table, error) {
	var t model.Table
	var cols []byte
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &cols, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan table")
	}
	if err := json.Unmarshal(cols, &t.Columns); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal columns")
	}
	return &t, nil
}

func scanPgRow(row pgx.Row) (*model.Row, error) {
	var r model.Row
	var data, cellErrors []byte
	if err := row.Scan(&r.ID, &r.TableID, &data, &cellErrors, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan row")
	}
	if err := decodeRowJSON(&r, data, cellErrors); err != nil {
		return nil, err
	}
	return &r, nil
}
