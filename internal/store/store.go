// Package store persists tables, rows, cell enrichments and column
// vocabularies.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/moritzWa/deeptable/internal/model"
)

// ErrNotFound is matched by every lookup miss.
var ErrNotFound = eris.New("not found")

// RowFilter pages through a table's rows.
type RowFilter struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Store defines the persistence interface for the enrichment service.
type Store interface {
	// Tables
	GetTable(ctx context.Context, tableID string) (*model.Table, error)
	ListTables(ctx context.Context) ([]model.Table, error)
	// SaveTable upserts the table and its columns. Select items listed on
	// categorical columns are added to the vocabulary if absent; existing
	// vocabulary entries are never removed.
	SaveTable(ctx context.Context, t *model.Table) error

	// Rows
	CreateRow(ctx context.Context, tableID string, data map[string]any) (*model.Row, error)
	// CreateRows bulk-inserts rows in the given order.
	CreateRows(ctx context.Context, tableID string, data []map[string]any) ([]model.Row, error)
	GetRow(ctx context.Context, rowID string) (*model.Row, error)
	ListRows(ctx context.Context, tableID string, filter RowFilter) ([]model.Row, error)

	// Cells
	// SaveCellResult stores value under columnID, appends meta to the row's
	// enrichments and clears any error recorded for the cell.
	SaveCellResult(ctx context.Context, rowID, columnID string, value any, meta model.EnrichmentMetadata) error
	// SetCellError records msg as the cell's error state, leaving its value as is.
	SetCellError(ctx context.Context, rowID, columnID, msg string) error

	// Vocabulary
	// AddSelectItems inserts each item whose case-folded name is not yet in
	// the column's vocabulary and returns the full vocabulary in insertion
	// order.
	AddSelectItems(ctx context.Context, tableID, columnID string, items []model.SelectItem) ([]model.SelectItem, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func notFound(entity, id string) error {
	return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
}

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// columnsForStorage strips vocabularies from the column list; they live in
// their own table.
func columnsForStorage(cols []model.Column) ([]byte, error) {
	stripped := make([]model.Column, len(cols))
	for i, c := range cols {
		stripped[i] = c
		if c.AdditionalTypeInformation != nil {
			info := *c.AdditionalTypeInformation
			info.SelectItems = nil
			stripped[i].AdditionalTypeInformation = &info
		}
	}
	b, err := json.Marshal(stripped)
	return b, eris.Wrap(err, "store: marshal columns")
}

// attachVocabulary sets each categorical column's select items from vocab,
// keyed by column id.
func attachVocabulary(t *model.Table, vocab map[string][]model.SelectItem) {
	for i := range t.Columns {
		c := &t.Columns[i]
		if !c.Type.IsCategorical() {
			continue
		}
		if c.AdditionalTypeInformation == nil {
			c.AdditionalTypeInformation = &model.TypeInfo{}
		}
		items := vocab[c.ID]
		if items == nil {
			items = []model.SelectItem{}
		}
		c.AdditionalTypeInformation.SelectItems = items
	}
}

func decodeRowJSON(r *model.Row, data, cellErrors []byte) error {
	r.Data = map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &r.Data); err != nil {
			return eris.Wrap(err, "store: unmarshal row data")
		}
	}
	if len(cellErrors) > 0 {
		if err := json.Unmarshal(cellErrors, &r.CellErrors); err != nil {
			return eris.Wrap(err, "store: unmarshal cell errors")
		}
	}
	if len(r.CellErrors) == 0 {
		r.CellErrors = nil
	}
	r.Enrichments = []model.EnrichmentMetadata{}
	return nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 1000
	}
	return limit
}

// prepareEnrichment fills in the id, column and timestamp of a new entry and
// encodes its lists.
func prepareEnrichment(columnID string, meta model.EnrichmentMetadata) (model.EnrichmentMetadata, []byte, []byte, error) {
	if meta.ID == "" {
		meta.ID = uuid.New().String()
	}
	meta.ColumnID = columnID
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	if meta.ReasoningSteps == nil {
		meta.ReasoningSteps = []string{}
	}
	if meta.Sources == nil {
		meta.Sources = []string{}
	}
	steps, err := json.Marshal(meta.ReasoningSteps)
	if err != nil {
		return meta, nil, nil, eris.Wrap(err, "store: marshal reasoning steps")
	}
	sources, err := json.Marshal(meta.Sources)
	if err != nil {
		return meta, nil, nil, eris.Wrap(err, "store: marshal sources")
	}
	return meta, steps, sources, nil
}

func decodeEnrichment(e *model.EnrichmentMetadata, steps, sources []byte) error {
	if err := json.Unmarshal(steps, &e.ReasoningSteps); err != nil {
		return eris.Wrap(err, "store: unmarshal reasoning steps")
	}
	if err := json.Unmarshal(sources, &e.Sources); err != nil {
		return eris.Wrap(err, "store: unmarshal sources")
	}
	return nil
}

// newRows builds rows for insertion, spacing their timestamps a microsecond
// apart so listing order matches input order.
func newRows(tableID string, data []map[string]any) ([]model.Row, [][]byte, error) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	rows := make([]model.Row, len(data))
	encoded := make([][]byte, len(data))
	for i, d := range data {
		if d == nil {
			d = map[string]any{}
		}
		b, err := json.Marshal(d)
		if err != nil {
			return nil, nil, eris.Wrap(err, "store: marshal row data")
		}
		at := now.Add(time.Duration(i) * time.Microsecond)
		rows[i] = model.Row{
			ID:          uuid.New().String(),
			TableID:     tableID,
			Data:        d,
			Enrichments: []model.EnrichmentMetadata{},
			CreatedAt:   at,
			UpdatedAt:   at,
		}
		encoded[i] = b
	}
	return rows, encoded, nil
}
