// Package api exposes tables, rows and cell enrichment over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/moritzWa/deeptable/internal/enrich"
	"github.com/moritzWa/deeptable/internal/model"
	"github.com/moritzWa/deeptable/internal/store"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxBatchCells      = 500
)

// Enricher fills cells. *enrich.Service satisfies it.
type Enricher interface {
	EnrichCell(ctx context.Context, tableID, rowID, columnID string) (*enrich.CellResult, error)
	EnrichCells(ctx context.Context, tableID string, cells []model.CellRef) []enrich.CellOutcome
}

// Deps are the handler's collaborators.
type Deps struct {
	Store          store.Store
	Enricher       Enricher
	AllowedOrigins []string
}

// NewHandler builds the HTTP router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", handleHealth)
	r.Route("/tables", func(r chi.Router) {
		r.Get("/", handleListTables(deps))
		r.Route("/{tableID}", func(r chi.Router) {
			r.Get("/", handleGetTable(deps))
			r.Get("/rows", handleListRows(deps))
			r.Post("/rows", handleCreateRow(deps))
			r.Post("/rows/{rowID}/cells/{columnID}/enrich", handleEnrichCell(deps))
			r.Post("/enrich", handleEnrichCells(deps))
		})
	})
	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleListTables(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tables, err := deps.Store.ListTables(r.Context())
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		if tables == nil {
			tables = []model.Table{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
	}
}

func handleGetTable(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tbl, err := deps.Store.GetTable(r.Context(), chi.URLParam(r, "tableID"))
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tbl)
	}
}

func handleListRows(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tableID := chi.URLParam(r, "tableID")
		filter, ok := parseRowFilter(w, r)
		if !ok {
			return
		}
		if _, err := deps.Store.GetTable(r.Context(), tableID); err != nil {
			writeStoreError(w, r, err)
			return
		}
		rows, err := deps.Store.ListRows(r.Context(), tableID, filter)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		if rows == nil {
			rows = []model.Row{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
	}
}

func parseRowFilter(w http.ResponseWriter, r *http.Request) (store.RowFilter, bool) {
	var f store.RowFilter
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
			return f, false
		}
		*dst = n
	}
	return f, true
}

func handleCreateRow(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Data map[string]any `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		tableID := chi.URLParam(r, "tableID")
		if _, err := deps.Store.GetTable(r.Context(), tableID); err != nil {
			writeStoreError(w, r, err)
			return
		}
		row, err := deps.Store.CreateRow(r.Context(), tableID, req.Data)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, row)
	}
}

func handleEnrichCell(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Enricher.EnrichCell(r.Context(),
			chi.URLParam(r, "tableID"),
			chi.URLParam(r, "rowID"),
			chi.URLParam(r, "columnID"),
		)
		if err != nil {
			writeEnrichError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// cellOutcome is the wire form of one batch entry.
type cellOutcome struct {
	model.CellRef
	*enrich.CellResult
	Error string `json:"error,omitempty"`
}

func handleEnrichCells(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Cells []model.CellRef `json:"cells"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.Cells) == 0 {
			writeError(w, http.StatusBadRequest, "cells is required")
			return
		}
		if len(req.Cells) > maxBatchCells {
			writeError(w, http.StatusBadRequest, "too many cells in one request")
			return
		}
		for _, c := range req.Cells {
			if c.RowID == "" || c.ColumnID == "" {
				writeError(w, http.StatusBadRequest, "every cell needs rowId and columnId")
				return
			}
		}

		outcomes := deps.Enricher.EnrichCells(r.Context(), chi.URLParam(r, "tableID"), req.Cells)
		results := make([]cellOutcome, len(outcomes))
		for i, o := range outcomes {
			results[i] = cellOutcome{CellRef: o.CellRef, CellResult: o.Result}
			if o.Err != nil {
				_, msg := enrichErrorStatus(o.Err)
				results[i].Error = msg
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

// enrichErrorStatus maps a fill error to its HTTP status and public message.
func enrichErrorStatus(err error) (int, string) {
	switch {
	case store.IsNotFound(err):
		return http.StatusNotFound, "not found"
	case errors.Is(err, enrich.ErrUnknownColumn):
		return http.StatusNotFound, "unknown column"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request cancelled"
	case errors.Is(err, enrich.ErrCellFailed):
		return http.StatusBadGateway, enrich.CellErrorMessage
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeEnrichError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := enrichErrorStatus(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: enrich failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, status, msg)
}

func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if store.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	zap.L().Error("api: store error", zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
