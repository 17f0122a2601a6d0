package report

import (
	"io"
	"path"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/src-d/enry/v2"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/coverage"
)

const unknownLanguage = "-"

// RenderTable writes a per-file coverage table with a TOTAL footer to w.
// Percentages are colored by watermark when color is set.
func RenderTable(w io.Writer, cm *coverage.CoverageMap, color bool) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.DrawBorder = false

	tbl.AppendHeader(table.Row{"File", "Language", "Statements", "Lines", "Functions", "Branches"})

	for _, key := range cm.Files() {
		fc, _ := cm.FileCoverageFor(key)
		sum := fc.Summary()

		tbl.AppendRow(table.Row{
			key,
			Language(key),
			pctCell(sum.Statements, color),
			pctCell(sum.Lines, color),
			pctCell(sum.Functions, color),
			pctCell(sum.Branches, color),
		})
	}

	total := cm.Summary()

	tbl.AppendFooter(table.Row{
		"TOTAL (" + humanize.Comma(int64(cm.Len())) + " files)",
		"",
		countCell(total.Statements),
		countCell(total.Lines),
		countCell(total.Functions),
		countCell(total.Branches),
	})

	tbl.Render()
}

// Language guesses the source language of a covered file from its name.
func Language(key string) string {
	lang := enry.GetLanguage(path.Base(key), nil)
	if lang == "" {
		return unknownLanguage
	}

	return lang
}

func pctCell(t coverage.Totals, color bool) string {
	cell := strconv.FormatFloat(t.Pct, 'f', 2, 64) + "%"
	if !color {
		return cell
	}

	switch {
	case t.Pct >= WatermarkHigh:
		return text.FgGreen.Sprint(cell)
	case t.Pct >= WatermarkLow:
		return text.FgYellow.Sprint(cell)
	default:
		return text.FgRed.Sprint(cell)
	}
}

func countCell(t coverage.Totals) string {
	return humanize.Comma(int64(t.Covered)) + "/" + humanize.Comma(int64(t.Total)) +
		" (" + strconv.Itoa(coverage.RoundedPercent(t.Covered, t.Total)) + "%)"
}
