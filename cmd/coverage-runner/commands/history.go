package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/history"
)

// ErrNoHistoryDB indicates the history command was run without a ledger.
var ErrNoHistoryDB = errors.New("--history-db is required")

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	return newHistoryCommand(time.Now)
}

func newHistoryCommand(now func() time.Time) *cobra.Command {
	var (
		dsn    string
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded merge runs",
		Long:  "List the merge runs recorded with merge --history-db, newest first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				return ErrNoHistoryDB
			}

			store, err := history.Open(dsn)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")

				return enc.Encode(records)
			}

			renderHistory(cmd.OutOrStdout(), records, now())

			return nil
		},
	}

	cmd.Flags().StringVar(&dsn, "history-db", "", "SQLite ledger written by merge --history-db")
	cmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultLimit, "Number of runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	return cmd
}

func renderHistory(w io.Writer, records []history.RunRecord, now time.Time) {
	if len(records) == 0 {
		fmt.Fprintln(w, "no runs recorded")

		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Run", "When", "Files", "Sources", "Stmts", "Lines", "Funcs", "Branches", "Output"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})

	for _, rec := range records {
		tw.AppendRow(table.Row{
			shortID(rec.ID),
			humanize.RelTime(rec.CreatedAt, now, "ago", "from now"),
			humanize.Comma(int64(rec.FilesProcessed)),
			humanize.Comma(int64(rec.UniqueFiles)),
			pct(rec.StatementsPct),
			pct(rec.LinesPct),
			pct(rec.FunctionsPct),
			pct(rec.BranchesPct),
			rec.OutputDir,
		})
	}

	tw.Render()
}

func shortID(id string) string {
	const n = 8
	if len(id) <= n {
		return id
	}

	return id[:n]
}

func pct(v float64) string {
	return humanize.FtoaWithDigits(v, 2) + "%"
}
