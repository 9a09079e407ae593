// Package enrich fills table cells: it asks every provider, synthesizes a
// typed value, reconciles categories and persists the result with its
// provenance.
package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/moritzWa/deeptable/internal/category"
	"github.com/moritzWa/deeptable/internal/cost"
	"github.com/moritzWa/deeptable/internal/model"
	"github.com/moritzWa/deeptable/internal/provider"
	"github.com/moritzWa/deeptable/internal/schema"
	"github.com/moritzWa/deeptable/internal/store"
	"github.com/moritzWa/deeptable/internal/synth"
)

// CellErrorMessage is the error state recorded on a cell whose fill failed.
const CellErrorMessage = "error enriching cell"

// DefaultMaxConcurrentCells bounds EnrichCells when no limit is configured.
const DefaultMaxConcurrentCells = 4

var (
	// ErrUnknownColumn is returned when the column is not part of the table.
	ErrUnknownColumn = eris.New("unknown column")
	// ErrCellFailed marks a fill that reached the pipeline and failed there;
	// the cell carries CellErrorMessage afterwards.
	ErrCellFailed = eris.New(CellErrorMessage)
)

// CellError is a fill that failed after the row was loaded. It matches
// ErrCellFailed and unwraps to the cause.
type CellError struct {
	RowID    string
	ColumnID string
	Err      error
}

func (e *CellError) Error() string {
	return fmt.Sprintf("enrich: %s/%s: %s: %v", e.RowID, e.ColumnID, CellErrorMessage, e.Err)
}

func (e *CellError) Unwrap() error { return e.Err }

// Is reports whether target is ErrCellFailed.
func (e *CellError) Is(target error) bool { return target == ErrCellFailed }

// CellResult is the outcome of one successful fill.
type CellResult struct {
	Value    model.Value              `json:"value"`
	Metadata model.EnrichmentMetadata `json:"metadata"`
	// UpdatedSelectItems is the column's vocabulary after new categories
	// were added; nil when nothing was added.
	UpdatedSelectItems []model.SelectItem `json:"updatedSelectItems,omitempty"`
}

// CellOutcome pairs a requested cell with its result or error.
type CellOutcome struct {
	model.CellRef
	Result *CellResult `json:"result,omitempty"`
	Err    error       `json:"-"`
}

// Service runs the cell pipeline against a store.
type Service struct {
	store      store.Store
	providers  []provider.Provider
	synth      *synth.Synthesizer
	reconciler *category.Reconciler
	fanOut     provider.FanOutOptions
	maxCells   int
	vocabLocks *keyedMutex
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithFanOutOptions sets the per-provider timeout, breakers and cache.
func WithFanOutOptions(o provider.FanOutOptions) Option {
	return func(s *Service) { s.fanOut = o }
}

// WithMaxConcurrentCells bounds how many cells EnrichCells fills at once.
func WithMaxConcurrentCells(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxCells = n
		}
	}
}

// WithReconciler replaces the default category reconciler.
func WithReconciler(r *category.Reconciler) Option {
	return func(s *Service) { s.reconciler = r }
}

// New creates a Service.
func New(st store.Store, providers []provider.Provider, syn *synth.Synthesizer, opts ...Option) *Service {
	s := &Service{
		store:      st,
		providers:  providers,
		synth:      syn,
		reconciler: category.New(),
		maxCells:   DefaultMaxConcurrentCells,
		vocabLocks: newKeyedMutex(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// EnrichCell fills one cell and persists the value and its provenance.
// Lookup misses are returned as is; failures after the row was loaded are
// recorded on the cell and returned as a *CellError.
func (s *Service) EnrichCell(ctx context.Context, tableID, rowID, columnID string) (*CellResult, error) {
	log := zap.L().With(
		zap.String("table_id", tableID),
		zap.String("row_id", rowID),
		zap.String("column_id", columnID),
	)

	tbl, err := s.store.GetTable(ctx, tableID)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: load table")
	}
	col, ok := tbl.Column(columnID)
	if !ok {
		return nil, eris.Wrapf(ErrUnknownColumn, "enrich: column %s in table %s", columnID, tableID)
	}
	row, err := s.store.GetRow(ctx, rowID)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: load row")
	}
	if row.TableID != tableID {
		return nil, eris.Wrapf(store.ErrNotFound, "enrich: row %s in table %s", rowID, tableID)
	}

	ledger := cost.NewLedger()
	ctx = cost.WithLedger(ctx, ledger)
	start := time.Now()

	res, err := s.fill(ctx, tbl, col, row)
	ledger.Log(
		zap.String("table_id", tableID),
		zap.String("row_id", rowID),
		zap.String("column_id", columnID),
	)
	if err != nil {
		log.Error("enrich: cell failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		if setErr := s.store.SetCellError(context.WithoutCancel(ctx), rowID, columnID, CellErrorMessage); setErr != nil {
			log.Warn("enrich: failed to record cell error", zap.Error(setErr))
		}
		return nil, &CellError{RowID: rowID, ColumnID: columnID, Err: err}
	}

	log.Info("enrich: cell filled",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("sources", len(res.Metadata.Sources)),
		zap.Bool("vocabulary_updated", res.UpdatedSelectItems != nil),
	)
	return res, nil
}

func (s *Service) fill(ctx context.Context, tbl *model.Table, col model.Column, row *model.Row) (*CellResult, error) {
	sch, err := schema.Build(col.Type, col.CategoryNames())
	if err != nil {
		return nil, err
	}

	question := BuildQuestion(CellContext{
		TableName:        tbl.Name,
		TableDescription: tbl.Description,
		Column:           col,
		Columns:          tbl.Columns,
		RowData:          row.Data,
	})
	answers := provider.FanOut(ctx, question, s.providers, s.fanOut)

	in := synth.Input{
		TableName:         tbl.Name,
		ColumnName:        col.Name,
		ColumnDescription: col.Description,
		ColumnType:        col.Type,
		Schema:            sch,
		Answers:           answers,
	}
	if info := col.AdditionalTypeInformation; info != nil {
		in.Decimals = info.Decimals
	}
	syn, err := s.synth.Synthesize(ctx, in)
	if err != nil {
		return nil, err
	}

	out := &CellResult{Value: syn.Value}
	if col.Type.IsCategorical() {
		value, updated, err := s.reconcile(ctx, tbl.ID, col, syn.Value)
		if err != nil {
			return nil, err
		}
		out.Value = value
		out.UpdatedSelectItems = updated
	}

	out.Metadata = syn.Metadata.ForColumn(col.ID, s.now())
	if err := s.store.SaveCellResult(ctx, row.ID, col.ID, out.Value.Stored(), out.Metadata); err != nil {
		return nil, err
	}
	return out, nil
}

// reconcile maps the suggested labels onto the column's current vocabulary,
// persisting new categories. It holds the column's lock for the whole
// read-reconcile-write so concurrent fills in this process see each other's
// additions; the store's add-if-absent covers other processes.
func (s *Service) reconcile(ctx context.Context, tableID string, col model.Column, suggested model.Value) (model.Value, []model.SelectItem, error) {
	unlock := s.vocabLocks.Lock(tableID + "/" + col.ID)
	defer unlock()

	fresh, err := s.store.GetTable(ctx, tableID)
	if err != nil {
		return model.Value{}, nil, eris.Wrap(err, "enrich: reload vocabulary")
	}
	if c, ok := fresh.Column(col.ID); ok {
		col = c
	}

	rec, err := s.reconciler.Reconcile(col.Type, suggested, col.SelectItems())
	if err != nil {
		return model.Value{}, nil, err
	}
	if len(rec.Added) == 0 {
		return rec.Final, nil, nil
	}

	merged, err := s.store.AddSelectItems(ctx, tableID, col.ID, rec.Added)
	if err != nil {
		return model.Value{}, nil, eris.Wrap(err, "enrich: add select items")
	}
	return canonical(rec.Final, merged), merged, nil
}

// canonical rewrites labels to the casing stored in vocab.
func canonical(v model.Value, vocab []model.SelectItem) model.Value {
	names := make(map[string]string, len(vocab))
	for _, it := range vocab {
		names[model.NameKey(it.Name)] = it.Name
	}
	fix := func(label string) string {
		if n, ok := names[model.NameKey(label)]; ok {
			return n
		}
		return label
	}

	switch v.Kind {
	case model.ValueMulti:
		items := make([]string, len(v.Items))
		for i, it := range v.Items {
			items[i] = fix(it)
		}
		return model.MultiValue(items)
	case model.ValueText:
		return model.SingleValue(fix(v.Text))
	default:
		return v
	}
}

// EnrichCells fills the given cells of one table concurrently. Each cell
// succeeds or fails on its own; outcomes are returned in request order.
func (s *Service) EnrichCells(ctx context.Context, tableID string, cells []model.CellRef) []CellOutcome {
	outcomes := make([]CellOutcome, len(cells))

	var g errgroup.Group
	g.SetLimit(s.maxCells)
	for i, ref := range cells {
		g.Go(func() error {
			res, err := s.EnrichCell(ctx, tableID, ref.RowID, ref.ColumnID)
			outcomes[i] = CellOutcome{CellRef: ref, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// EnrichColumn fills a column across the table's rows. With onlyEmpty set,
// rows whose cell already holds a value are skipped.
func (s *Service) EnrichColumn(ctx context.Context, tableID, columnID string, onlyEmpty bool) ([]CellOutcome, error) {
	tbl, err := s.store.GetTable(ctx, tableID)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: load table")
	}
	if _, ok := tbl.Column(columnID); !ok {
		return nil, eris.Wrapf(ErrUnknownColumn, "enrich: column %s in table %s", columnID, tableID)
	}

	var refs []model.CellRef
	for offset := 0; ; {
		page, err := s.store.ListRows(ctx, tableID, store.RowFilter{Limit: 500, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "enrich: list rows")
		}
		for _, r := range page {
			if onlyEmpty && formatCell(r.Data[columnID]) != "" {
				continue
			}
			refs = append(refs, model.CellRef{RowID: r.ID, ColumnID: columnID})
		}
		if len(page) < 500 {
			break
		}
		offset += len(page)
	}

	zap.L().Info("enrich: filling column",
		zap.String("table_id", tableID),
		zap.String("column_id", columnID),
		zap.Int("cells", len(refs)),
	)
	return s.EnrichCells(ctx, tableID, refs), nil
}
