package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/banshee-data/pixeltrack/internal/config"
	"github.com/banshee-data/pixeltrack/internal/monitoring"
	"github.com/banshee-data/pixeltrack/internal/pixeltrack"
	"github.com/banshee-data/pixeltrack/internal/quality"
	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Output file names written by WritePullHistograms.
const (
	PullXFile = "pull_x.png"
	PullYFile = "pull_y.png"
)

// HistogramOptions controls the pull histogram layout.
type HistogramOptions struct {
	Bins   int
	Range  float64 // histogram covers [-Range, +Range]
	Width  vg.Length
	Height vg.Length
}

// HistogramOptionsFromConfig reads the plotting settings.
func HistogramOptionsFromConfig(cfg *config.TrackingConfig) HistogramOptions {
	return HistogramOptions{
		Bins:   cfg.GetPullHistogramBins(),
		Range:  cfg.GetPullHistogramRange(),
		Width:  vg.Length(cfg.GetPlotWidthInches()) * vg.Inch,
		Height: vg.Length(cfg.GetPlotHeightInches()) * vg.Inch,
	}
}

// clip keeps values inside [-r, r] and counts the rest.
func clip(values []float64, r float64) (plotter.Values, int) {
	kept := make(plotter.Values, 0, len(values))
	overflow := 0
	for _, v := range values {
		if math.IsNaN(v) || v < -r || v > r {
			overflow++
			continue
		}
		kept = append(kept, v)
	}
	return kept, overflow
}

// PullHistogram builds a normalised histogram of values with a unit
// Gaussian overlaid.
func PullHistogram(title string, values []float64, o HistogramOptions) (*plot.Plot, error) {
	kept, overflow := clip(values, o.Range)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (n=%d, outside=%d)", title, len(kept), overflow)
	p.X.Label.Text = "pull"
	p.Y.Label.Text = "density"
	p.X.Min = -o.Range
	p.X.Max = o.Range

	if len(kept) == 0 {
		return p, nil
	}

	h, err := plotter.NewHist(kept, o.Bins)
	if err != nil {
		return nil, fmt.Errorf("build %s histogram: %w", title, err)
	}
	h.Normalize(1)
	p.Add(h)

	gauss := plotter.NewFunction(distuv.UnitNormal.Prob)
	gauss.Width = vg.Points(1)
	gauss.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(gauss)
	p.Legend.Add("N(0,1)", gauss)
	return p, nil
}

// WritePullHistograms writes x and y pull histograms of hits used for the
// fit into dir and returns the written paths.
func WritePullHistograms(tracks []*pixeltrack.LocalTrack, dir string, o HistogramOptions) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create plot dir: %w", err)
	}

	px, py := quality.Pulls(tracks)
	outputs := []struct {
		title  string
		file   string
		values []float64
	}{
		{"x pull", PullXFile, px},
		{"y pull", PullYFile, py},
	}

	var written []string
	for _, out := range outputs {
		p, err := PullHistogram(out.title, out.values, o)
		if err != nil {
			return written, err
		}
		path := filepath.Join(dir, out.file)
		if err := p.Save(o.Width, o.Height, path); err != nil {
			return written, fmt.Errorf("save %s: %w", path, err)
		}
		written = append(written, path)
	}
	monitoring.Logf("report: wrote %d pull histograms to %s (%d hits)", len(written), dir, len(px))
	return written, nil
}
