package report

import (
	"fmt"
	"io"

	"github.com/banshee-data/pixeltrack/internal/pixeltrack"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// Projection selects the transverse coordinate plotted against z.
type Projection int

const (
	ProjectionXZ Projection = iota
	ProjectionYZ
)

func (p Projection) String() string {
	if p == ProjectionYZ {
		return "y"
	}
	return "x"
}

func (p Projection) pick(x, y float64) float64 {
	if p == ProjectionYZ {
		return y
	}
	return x
}

// ProjectionSeries returns the fitted line of t evaluated at zs as
// (z, coordinate) pairs.
func ProjectionSeries(t *pixeltrack.LocalTrack, zs []float64, p Projection) []opts.ScatterData {
	data := make([]opts.ScatterData, 0, len(zs))
	for _, z := range zs {
		pt := t.TrackPoint(z)
		data = append(data, opts.ScatterData{Value: []interface{}{pt.Z, p.pick(pt.X, pt.Y)}})
	}
	return data
}

// SampleZ returns n evenly spaced z values spanning lo..hi inclusive.
func SampleZ(lo, hi float64, n int) []float64 {
	if n < 2 {
		return []float64{lo}
	}
	zs := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range zs {
		zs[i] = lo + step*float64(i)
	}
	zs[n-1] = hi
	return zs
}

// hitSeries splits hit positions into used-for-fit and other real hits.
// Placeholder hits are skipped.
func hitSeries(tracks []*pixeltrack.LocalTrack, p Projection) (used, unused []opts.ScatterData) {
	for _, t := range tracks {
		t.Hits().Each(func(_ uint32, h pixeltrack.FittedRecHit) bool {
			if !h.IsRealHit() {
				return true
			}
			g := h.GlobalCoordinates()
			d := opts.ScatterData{Value: []interface{}{g.Z, p.pick(g.X, g.Y)}}
			if h.IsUsedForFit() {
				used = append(used, d)
			} else {
				unused = append(unused, d)
			}
			return true
		})
	}
	return used, unused
}

// ProjectionChart builds one projection: each track drawn as a dense
// series of points along its fitted line, with the real hits overlaid.
func ProjectionChart(tracks []*pixeltrack.LocalTrack, zs []float64, p Projection) *charts.Scatter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Pixel local tracks", Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("%s-z projection", p), Subtitle: fmt.Sprintf("tracks=%d", len(tracks))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Min: "dataMin", Max: "dataMax", Name: "z (mm)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: "dataMin", Max: "dataMax", Name: fmt.Sprintf("%s (mm)", p), NameLocation: "middle", NameGap: 40}),
	)

	for i, t := range tracks {
		scatter.AddSeries(fmt.Sprintf("track %d", i), ProjectionSeries(t, zs, p),
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}))
	}

	used, unused := hitSeries(tracks, p)
	scatter.AddSeries("hits (fit)", used, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	scatter.AddSeries("hits (not in fit)", unused, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))
	return scatter
}

// RenderProjections writes an HTML page with the x-z and y-z projections
// of tracks evaluated at zs.
func RenderProjections(w io.Writer, tracks []*pixeltrack.LocalTrack, zs []float64) error {
	page := components.NewPage()
	page.AddCharts(
		ProjectionChart(tracks, zs, ProjectionXZ),
		ProjectionChart(tracks, zs, ProjectionYZ),
	)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render projections: %w", err)
	}
	return nil
}
