package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/moritzWa/deeptable/internal/enrich"
	"github.com/moritzWa/deeptable/internal/model"
)

var (
	enrichTable     string
	enrichColumn    string
	enrichRow       string
	enrichOnlyEmpty bool
)

// outcomeJSON is the printed form of one cell's outcome.
type outcomeJSON struct {
	RowID    string             `json:"rowId"`
	ColumnID string             `json:"columnId"`
	Result   *enrich.CellResult `json:"result,omitempty"`
	Error    string             `json:"error,omitempty"`
}

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich one cell, or every cell of a column",
	Long:  "Fills a single cell when --row is given, otherwise every row of the column (only blank cells with --only-empty). Prints the outcomes as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnrichEnv(ctx, "enrich")
		if err != nil {
			return err
		}
		defer env.Close()

		var outcomes []enrich.CellOutcome
		if enrichRow != "" {
			res, err := env.Service.EnrichCell(ctx, enrichTable, enrichRow, enrichColumn)
			outcomes = []enrich.CellOutcome{{
				CellRef: model.CellRef{RowID: enrichRow, ColumnID: enrichColumn},
				Result:  res,
				Err:     err,
			}}
		} else {
			outcomes, err = env.Service.EnrichColumn(ctx, enrichTable, enrichColumn, enrichOnlyEmpty)
			if err != nil {
				return err
			}
		}

		failed := 0
		out := make([]outcomeJSON, len(outcomes))
		for i, o := range outcomes {
			out[i] = outcomeJSON{RowID: o.RowID, ColumnID: o.ColumnID, Result: o.Result}
			if o.Err != nil {
				failed++
				out[i].Error = o.Err.Error()
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return eris.Wrap(err, "encode outcomes")
		}

		zap.L().Info("enrich complete",
			zap.String("table_id", enrichTable),
			zap.String("column_id", enrichColumn),
			zap.Int("cells", len(outcomes)),
			zap.Int("failed", failed),
		)
		if failed > 0 {
			return fmt.Errorf("%d of %d cells failed", failed, len(outcomes))
		}
		return nil
	},
}

func init() {
	enrichCmd.Flags().StringVar(&enrichTable, "table", "", "table id")
	enrichCmd.Flags().StringVar(&enrichColumn, "column", "", "column id")
	enrichCmd.Flags().StringVar(&enrichRow, "row", "", "row id (enrich a single cell)")
	enrichCmd.Flags().BoolVar(&enrichOnlyEmpty, "only-empty", false, "skip rows whose cell already has a value")
	_ = enrichCmd.MarkFlagRequired("table")
	_ = enrichCmd.MarkFlagRequired("column")
	rootCmd.AddCommand(enrichCmd)
}
