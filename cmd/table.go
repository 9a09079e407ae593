package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/moritzWa/deeptable/internal/model"
	"github.com/moritzWa/deeptable/internal/sheet"
	"github.com/moritzWa/deeptable/internal/store"
	"github.com/moritzWa/deeptable/internal/tabledef"
)

const exportPageSize = 1000

var (
	importRowsPath string
	importSheet    string
	exportTable    string
	exportOut      string
)

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Import, export, and list tables",
}

var tableImportCmd = &cobra.Command{
	Use:   "import <definition.yaml>",
	Short: "Create or update a table from a YAML definition",
	Long:  "Saves the table and its columns, appends the rows listed in the definition, and, with --rows, appends rows read from an XLSX workbook.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		def, err := tabledef.Load(args[0])
		if err != nil {
			return err
		}

		env, err := initStoreEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		tbl, rows, err := tabledef.Import(ctx, env.Store, def)
		if err != nil {
			return err
		}

		added := len(rows)
		if importRowsPath != "" {
			data, err := sheet.ReadRows(importRowsPath, tbl, sheet.ReadOptions{SheetName: importSheet})
			if err != nil {
				return err
			}
			if len(data) > 0 {
				created, err := env.Store.CreateRows(ctx, tbl.ID, data)
				if err != nil {
					return eris.Wrap(err, "create rows from workbook")
				}
				added += len(created)
			}
		}

		zap.L().Info("table imported",
			zap.String("table_id", tbl.ID),
			zap.Int("columns", len(tbl.Columns)),
			zap.Int("rows_added", added),
		)
		fmt.Printf("imported %s (%d columns, %d rows added)\n", tbl.ID, len(tbl.Columns), added)
		return nil
	},
}

var tableExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a table's rows and provenance to XLSX",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initStoreEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		tbl, err := env.Store.GetTable(ctx, exportTable)
		if err != nil {
			return err
		}
		rows, err := allRows(ctx, env.Store, tbl.ID)
		if err != nil {
			return err
		}

		out := exportOut
		if out == "" {
			out = tbl.ID + ".xlsx"
		}
		if err := sheet.ExportFile(out, tbl, rows); err != nil {
			return err
		}
		zap.L().Info("table exported", zap.String("table_id", tbl.ID), zap.Int("rows", len(rows)), zap.String("path", out))
		return nil
	},
}

var tableListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initStoreEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		tables, err := env.Store.ListTables(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCOLUMNS")
		for _, t := range tables {
			fmt.Fprintf(w, "%s\t%s\t%d\n", t.ID, t.Name, len(t.Columns))
		}
		return w.Flush()
	},
}

// allRows pages through every row of a table.
func allRows(ctx context.Context, st store.Store, tableID string) ([]model.Row, error) {
	var rows []model.Row
	for offset := 0; ; offset += exportPageSize {
		page, err := st.ListRows(ctx, tableID, store.RowFilter{Limit: exportPageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		rows = append(rows, page...)
		if len(page) < exportPageSize {
			return rows, nil
		}
	}
}

func init() {
	tableImportCmd.Flags().StringVar(&importRowsPath, "rows", "", "XLSX workbook with rows to append")
	tableImportCmd.Flags().StringVar(&importSheet, "sheet", "", "sheet to read rows from (default: first sheet)")

	tableExportCmd.Flags().StringVar(&exportTable, "table", "", "table id")
	tableExportCmd.Flags().StringVar(&exportOut, "out", "", "output path (default: <table>.xlsx)")
	_ = tableExportCmd.MarkFlagRequired("table")

	tableCmd.AddCommand(tableImportCmd, tableExportCmd, tableListCmd)
	rootCmd.AddCommand(tableCmd)
}
