// Package trackio reads and writes local tracks as JSON event files.
//
// An event file has the form
//
//	{"tracks": [{"z0": ..., "parameters": [x0, y0, tx, ty],
//	             "covariance": [16 values, row-major], "chi2": ...,
//	             "valid": ..., "hits": [...]}]}
//
// Hits are listed flat with their detector id; reading a file rebuilds
// each track through AddHit, so the used-for-fit counter matches the
// hits as written.
package trackio

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/banshee-data/pixeltrack/internal/monitoring"
	"github.com/banshee-data/pixeltrack/internal/pixeltrack"
	"github.com/banshee-data/pixeltrack/internal/pixeltrack/detid"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrBadLength is returned when an array field has the wrong number of
// elements.
var ErrBadLength = errors.New("trackio: wrong array length")

// EventFile is the top-level JSON document.
type EventFile struct {
	Tracks []TrackRecord `json:"tracks"`
}

// TrackRecord is the JSON form of a LocalTrack.
type TrackRecord struct {
	Z0         float64     `json:"z0"`
	Parameters []float64   `json:"parameters"`
	Covariance []float64   `json:"covariance"`
	Chi2       float64     `json:"chi2"`
	Valid      bool        `json:"valid"`
	Hits       []HitRecord `json:"hits,omitempty"`
}

// HitRecord is the JSON form of a FittedRecHit and its detector id.
type HitRecord struct {
	DetID      uint32        `json:"det_id"`
	Global     []float64     `json:"global"`
	Residual   []float64     `json:"residual"`
	Pull       []float64     `json:"pull"`
	UsedForFit bool          `json:"used_for_fit"`
	RealHit    bool          `json:"real_hit"`
	Local      []float64     `json:"local,omitempty"`
	LocalError []float64     `json:"local_error,omitempty"`
	Cluster    ClusterRecord `json:"cluster"`
}

// ClusterRecord is the JSON form of pixeltrack.Cluster.
type ClusterRecord struct {
	MinPixelRow  int  `json:"min_row"`
	MinPixelCol  int  `json:"min_col"`
	Size         int  `json:"size"`
	SizeRow      int  `json:"size_row"`
	SizeCol      int  `json:"size_col"`
	IsOnEdge     bool `json:"on_edge,omitempty"`
	HasBadPixels bool `json:"bad_pixels,omitempty"`
	SpanTwoROCs  bool `json:"span_two_rocs,omitempty"`
}

func checkLen(field string, v []float64, want int) error {
	if len(v) != want {
		return fmt.Errorf("%s has %d elements, want %d: %w", field, len(v), want, ErrBadLength)
	}
	return nil
}

// optional allows an omitted field; a present one must have want elements.
func optional(field string, v []float64, want int) ([]float64, error) {
	if v == nil {
		return make([]float64, want), nil
	}
	return v, checkLen(field, v, want)
}

// ToTrack converts a record into a LocalTrack.
func (r TrackRecord) ToTrack() (*pixeltrack.LocalTrack, error) {
	if err := checkLen("parameters", r.Parameters, pixeltrack.Dimension); err != nil {
		return nil, err
	}
	if err := checkLen("covariance", r.Covariance, pixeltrack.CovarianceSize); err != nil {
		return nil, err
	}

	var params pixeltrack.ParameterVector
	copy(params[:], r.Parameters)
	var cov pixeltrack.CovarianceMatrix
	copy(cov[:], r.Covariance)

	t := pixeltrack.NewLocalTrack(r.Z0, params, cov, r.Chi2)
	t.SetValid(r.Valid)

	for i, h := range r.Hits {
		hit, err := h.toHit()
		if err != nil {
			return nil, fmt.Errorf("hit %d: %w", i, err)
		}
		t.AddHit(detid.DetID(h.DetID), hit)
	}
	return t, nil
}

func (h HitRecord) toHit() (pixeltrack.FittedRecHit, error) {
	var hit pixeltrack.FittedRecHit
	if err := checkLen("global", h.Global, 3); err != nil {
		return hit, err
	}
	if err := checkLen("residual", h.Residual, 2); err != nil {
		return hit, err
	}
	if err := checkLen("pull", h.Pull, 2); err != nil {
		return hit, err
	}
	local, err := optional("local", h.Local, 2)
	if err != nil {
		return hit, err
	}
	localErr, err := optional("local_error", h.LocalError, 3)
	if err != nil {
		return hit, err
	}

	rec := pixeltrack.NewRecHit(
		r2.Vec{X: local[0], Y: local[1]},
		pixeltrack.LocalError{XX: localErr[0], XY: localErr[1], YY: localErr[2]},
		pixeltrack.Cluster(h.Cluster),
	)
	hit = pixeltrack.NewFittedRecHit(rec,
		r3.Vec{X: h.Global[0], Y: h.Global[1], Z: h.Global[2]},
		pixeltrack.XY{X: h.Residual[0], Y: h.Residual[1]},
		pixeltrack.XY{X: h.Pull[0], Y: h.Pull[1]},
	)
	// real first: SetUsedForFit(true) would otherwise be undone by
	// SetRealHit(false) on an inconsistent record.
	hit.SetRealHit(h.RealHit)
	hit.SetUsedForFit(h.UsedForFit)
	return hit, nil
}

// FromTrack converts a LocalTrack into its record form.
func FromTrack(t *pixeltrack.LocalTrack) TrackRecord {
	params := t.ParameterVector()
	cov := t.CovarianceMatrix()
	r := TrackRecord{
		Z0:         t.Z0(),
		Parameters: append([]float64(nil), params[:]...),
		Covariance: append([]float64(nil), cov[:]...),
		Chi2:       t.ChiSquared(),
		Valid:      t.IsValid(),
	}
	t.Hits().Each(func(id uint32, h pixeltrack.FittedRecHit) bool {
		g := h.GlobalCoordinates()
		le := h.LocalError()
		lp := h.LocalPoint()
		r.Hits = append(r.Hits, HitRecord{
			DetID:      id,
			Global:     []float64{g.X, g.Y, g.Z},
			Residual:   []float64{h.XResidual(), h.YResidual()},
			Pull:       []float64{h.XPull(), h.YPull()},
			UsedForFit: h.IsUsedForFit(),
			RealHit:    h.IsRealHit(),
			Local:      []float64{lp.X, lp.Y},
			LocalError: []float64{le.XX, le.XY, le.YY},
			Cluster:    ClusterRecord(h.Cluster),
		})
		return true
	})
	return r
}

// Decode reads an event file from r.
func Decode(r io.Reader) ([]*pixeltrack.LocalTrack, error) {
	var ef EventFile
	dec := json.NewDecoder(r)
	if err := dec.Decode(&ef); err != nil {
		return nil, fmt.Errorf("decode event file: %w", err)
	}

	tracks := make([]*pixeltrack.LocalTrack, 0, len(ef.Tracks))
	for i, rec := range ef.Tracks {
		t, err := rec.ToTrack()
		if err != nil {
			return nil, fmt.Errorf("track %d: %w", i, err)
		}
		tracks = append(tracks, t)
	}
	monitoring.Debugf("trackio: decoded %d tracks", len(tracks))
	return tracks, nil
}

// Encode writes tracks to w as an indented event file.
func Encode(w io.Writer, tracks []*pixeltrack.LocalTrack) error {
	ef := EventFile{Tracks: make([]TrackRecord, 0, len(tracks))}
	for _, t := range tracks {
		ef.Tracks = append(ef.Tracks, FromTrack(t))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ef); err != nil {
		return fmt.Errorf("encode event file: %w", err)
	}
	return nil
}

// ReadFile decodes the event file at path.
func ReadFile(path string) ([]*pixeltrack.LocalTrack, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open event file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// WriteFile encodes tracks into a new file at path.
func WriteFile(path string, tracks []*pixeltrack.LocalTrack) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("create event file: %w", err)
	}
	if err := Encode(f, tracks); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
