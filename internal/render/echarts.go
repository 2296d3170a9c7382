// Package render draws chart snapshots: interactive HTML pages with
// go-echarts for the HTTP view and PNG thumbnails with gonum/plot for
// completed runs.
package render

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/nsls2/ariadne/internal/chart"
)

// DefaultAssetsHost serves the echarts javascript when no local copy is
// configured.
const DefaultAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// HTMLOptions tunes RenderFigureHTML.
type HTMLOptions struct {
	AssetsHost string
	Width      string
	Height     string
}

func (o HTMLOptions) withDefaults() HTMLOptions {
	if o.AssetsHost == "" {
		o.AssetsHost = DefaultAssetsHost
	}
	if o.Width == "" {
		o.Width = "100%"
	}
	if o.Height == "" {
		o.Height = "480px"
	}
	return o
}

// RenderFigureHTML writes fig as a standalone HTML page holding one line
// chart per axes and one series per (run, y-expression) trace.
func RenderFigureHTML(w io.Writer, fig chart.FigureSnapshot, o HTMLOptions) error {
	o = o.withDefaults()

	page := components.NewPage()
	page.SetAssetsHost(o.AssetsHost)
	page.SetPageTitle(fig.Title)

	for i, ax := range fig.Axes {
		line := charts.NewLine()
		line.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{
				PageTitle:  fig.Title,
				Width:      o.Width,
				Height:     o.Height,
				AssetsHost: o.AssetsHost,
				ChartID:    fmt.Sprintf("axes_%d", i),
			}),
			charts.WithTitleOpts(opts.Title{Title: ax.Title, Subtitle: fmt.Sprintf("%s: %d run(s)", fig.View, len(ax.Runs))}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
			charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
			charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: ax.X, NameLocation: "middle", NameGap: 25}),
			charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: ax.Title, Scale: opts.Bool(true)}),
			charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
		)
		for _, s := range ax.Series {
			line.AddSeries(s.Label, lineData(s),
				charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			)
		}
		page.AddCharts(line)
	}

	if err := page.Render(w); err != nil {
		return fmt.Errorf("render figure %s: %w", fig.ID, err)
	}
	return nil
}

// lineData converts a trace to [x, y] pairs, dropping non-finite points
// that cannot be encoded as JSON.
func lineData(s chart.Series) []opts.LineData {
	f := s.Finite()
	data := make([]opts.LineData, len(f.X))
	for i := range f.X {
		data[i] = opts.LineData{Value: []interface{}{f.X[i], f.Y[i]}}
	}
	return data
}
