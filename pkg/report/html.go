package report

import (
	"bytes"
	"fmt"
	"path"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/spf13/afero"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/coverage"
)

const (
	chartTitle       = "Coverage by File"
	chartWidth       = "100%"
	chartHeight      = "600px"
	emptyChartHeight = "400px"
	xAxisRotate      = 45
	percentAxisMax   = 100
)

// Series colors for the four metrics.
const (
	colorStatements = "#5470c6"
	colorLines      = "#91cc75"
	colorFunctions  = "#fac858"
	colorBranches   = "#ee6666"
)

// WriteHTML writes outDir/coverage-chart.html, a bar chart of per-file
// statement, line, function and branch percentages.
func WriteHTML(fs afero.Fs, outDir string, cm *coverage.CoverageMap) (string, error) {
	var buf bytes.Buffer

	renderErr := buildCoverageChart(cm).Render(&buf)
	if renderErr != nil {
		return "", fmt.Errorf("%w: render chart: %w", ErrWrite, renderErr)
	}

	return writeFile(fs, outDir, HTMLFileName, buf.Bytes())
}

func buildCoverageChart(cm *coverage.CoverageMap) *charts.Bar {
	bar := charts.NewBar()

	if cm.Len() == 0 {
		bar.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{PageTitle: chartTitle, Width: chartWidth, Height: emptyChartHeight}),
			charts.WithTitleOpts(opts.Title{Title: chartTitle, Subtitle: "No data", Left: "center"}),
		)

		return bar
	}

	files := cm.Files()
	labels := make([]string, len(files))
	statements := make([]opts.BarData, len(files))
	lines := make([]opts.BarData, len(files))
	functions := make([]opts.BarData, len(files))
	branches := make([]opts.BarData, len(files))

	for i, key := range files {
		fc, _ := cm.FileCoverageFor(key)
		sum := fc.Summary()

		labels[i] = path.Base(key)
		statements[i] = opts.BarData{Name: key, Value: sum.Statements.Pct}
		lines[i] = opts.BarData{Name: key, Value: sum.Lines.Pct}
		functions[i] = opts.BarData{Name: key, Value: sum.Functions.Pct}
		branches[i] = opts.BarData{Name: key, Value: sum.Branches.Pct}
	}

	total := cm.Summary()

	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: chartTitle, Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{
			Title:    chartTitle,
			Subtitle: fmt.Sprintf("%d files, %.2f%% statements covered", len(files), total.Statements.Pct),
			Left:     "center",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "8%", Left: "center"}),
		charts.WithGridOpts(opts.Grid{Top: "20%", Bottom: "15%", Left: "5%", Right: "5%", ContainLabel: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: percentAxisMax}, opts.DataZoom{Type: "inside"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Rotate: xAxisRotate, Interval: "0"}}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Coverage %", Max: percentAxisMax}),
	)

	bar.SetXAxis(labels).
		AddSeries("Statements", statements, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorStatements})).
		AddSeries("Lines", lines, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorLines})).
		AddSeries("Functions", functions, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorFunctions})).
		AddSeries("Branches", branches, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBranches}))

	return bar
}
