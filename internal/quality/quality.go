// Package quality applies selection cuts to local tracks and summarises
// fit quality over a track population.
package quality

import (
	"math"
	"sort"

	"github.com/banshee-data/pixeltrack/internal/config"
	"github.com/banshee-data/pixeltrack/internal/monitoring"
	"github.com/banshee-data/pixeltrack/internal/pixeltrack"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Reason names why a track was rejected.
type Reason string

const (
	ReasonAccepted       Reason = ""
	ReasonInvalid        Reason = "invalid"
	ReasonTooFewPoints   Reason = "too_few_points"
	ReasonNonPositiveNDF Reason = "non_positive_ndf"
	ReasonChi2OverNDF    Reason = "chi2"
	ReasonNonFiniteChi2  Reason = "non_finite_chi2"
)

// Selection holds the track quality cuts.
type Selection struct {
	RequireValid    bool
	MinPointsForFit int
	MaxChi2OverNDF  float64
}

// SelectionFromConfig builds a Selection from the tracking config.
func SelectionFromConfig(cfg *config.TrackingConfig) Selection {
	return Selection{
		RequireValid:    cfg.GetRequireValid(),
		MinPointsForFit: cfg.GetMinPointsForFit(),
		MaxChi2OverNDF:  cfg.GetMaxChi2OverNDF(),
	}
}

// Check returns ReasonAccepted if t passes every cut, otherwise the first
// failing cut. NDF is checked before chi2/NDF is evaluated, so the
// unguarded division in the track model is never reached with NDF <= 0.
func (s Selection) Check(t *pixeltrack.LocalTrack) Reason {
	if s.RequireValid && !t.IsValid() {
		return ReasonInvalid
	}
	if t.NumberOfPointsUsedForFit() < s.MinPointsForFit {
		return ReasonTooFewPoints
	}
	if t.NDF() <= 0 {
		return ReasonNonPositiveNDF
	}
	r := t.ChiSquaredOverNDF()
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return ReasonNonFiniteChi2
	}
	if r > s.MaxChi2OverNDF {
		return ReasonChi2OverNDF
	}
	return ReasonAccepted
}

// Accept reports whether t passes the selection.
func (s Selection) Accept(t *pixeltrack.LocalTrack) bool {
	return s.Check(t) == ReasonAccepted
}

// Filter splits tracks into accepted ones and rejection counts by reason.
func Filter(tracks []*pixeltrack.LocalTrack, s Selection) ([]*pixeltrack.LocalTrack, map[Reason]int) {
	accepted := make([]*pixeltrack.LocalTrack, 0, len(tracks))
	rejected := make(map[Reason]int)
	for _, t := range tracks {
		if r := s.Check(t); r != ReasonAccepted {
			rejected[r]++
			continue
		}
		accepted = append(accepted, t)
	}
	monitoring.Debugf("quality: accepted %d of %d tracks, rejected %v", len(accepted), len(tracks), rejected)
	return accepted, rejected
}

// RunSummary aggregates fit-level statistics over a set of tracks.
type RunSummary struct {
	Tracks            int     `json:"tracks"`
	ValidTracks       int     `json:"valid_tracks"`
	MeanChi2OverNDF   float64 `json:"mean_chi2_over_ndf"`
	MedianNDF         int     `json:"median_ndf"`
	PositiveNDFTracks int     `json:"positive_ndf_tracks"`
	TotalHits         int     `json:"total_hits"`
	TotalPointsUsed   int     `json:"total_points_used"`
	CounterMismatches int     `json:"counter_mismatches"`
}

// ComputeRunSummary summarises tracks. Mean chi2/NDF only includes tracks
// with NDF > 0.
func ComputeRunSummary(tracks []*pixeltrack.LocalTrack) *RunSummary {
	s := &RunSummary{Tracks: len(tracks)}
	if len(tracks) == 0 {
		return s
	}

	ndfs := make([]int, 0, len(tracks))
	var ratios []float64
	for _, t := range tracks {
		if t.IsValid() {
			s.ValidTracks++
		}
		ndf := t.NDF()
		ndfs = append(ndfs, ndf)
		if ndf > 0 {
			s.PositiveNDFTracks++
			ratios = append(ratios, t.ChiSquaredOverNDF())
		}
		s.TotalHits += t.Hits().Size()
		s.TotalPointsUsed += t.NumberOfPointsUsedForFit()
		if t.NumberOfPointsUsedForFit() != t.CountHitsUsedForFit() {
			s.CounterMismatches++
		}
	}

	if len(ratios) > 0 {
		s.MeanChi2OverNDF = stat.Mean(ratios, nil)
	}
	sort.Ints(ndfs)
	s.MedianNDF = ndfs[len(ndfs)/2]

	if s.CounterMismatches > 0 {
		monitoring.Logf("quality: %d tracks have a used-for-fit counter that disagrees with their hits", s.CounterMismatches)
	}
	return s
}

// Moments is the mean and standard deviation of a sample.
type Moments struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

func moments(x []float64) Moments {
	m := Moments{N: len(x)}
	if len(x) == 0 {
		return m
	}
	m.Mean, m.StdDev = stat.MeanStdDev(x, nil)
	if len(x) == 1 {
		m.StdDev = 0
	}
	m.Min = floats.Min(x)
	m.Max = floats.Max(x)
	return m
}

// PullSummary describes residual and pull distributions over hits used
// for the fit. For a well-calibrated fit the pulls have mean ~0 and
// standard deviation ~1.
type PullSummary struct {
	Hits      int     `json:"hits"`
	PullX     Moments `json:"pull_x"`
	PullY     Moments `json:"pull_y"`
	ResidualX Moments `json:"residual_x"`
	ResidualY Moments `json:"residual_y"`
}

// Pulls collects x and y pulls of hits used for the fit.
func Pulls(tracks []*pixeltrack.LocalTrack) (px, py []float64) {
	for _, t := range tracks {
		t.Hits().Each(func(_ uint32, h pixeltrack.FittedRecHit) bool {
			if h.IsUsedForFit() {
				px = append(px, h.XPull())
				py = append(py, h.YPull())
			}
			return true
		})
	}
	return px, py
}

// ComputePullSummary summarises pulls and residuals of used hits.
func ComputePullSummary(tracks []*pixeltrack.LocalTrack) *PullSummary {
	var px, py, rx, ry []float64
	for _, t := range tracks {
		t.Hits().Each(func(_ uint32, h pixeltrack.FittedRecHit) bool {
			if !h.IsUsedForFit() {
				return true
			}
			px = append(px, h.XPull())
			py = append(py, h.YPull())
			rx = append(rx, h.XResidual())
			ry = append(ry, h.YResidual())
			return true
		})
	}
	return &PullSummary{
		Hits:      len(px),
		PullX:     moments(px),
		PullY:     moments(py),
		ResidualX: moments(rx),
		ResidualY: moments(ry),
	}
}
