package pixeltrack

import (
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Hit is implemented by anything carrying a pixel measurement.
type Hit interface {
	LocalPoint() r2.Vec
	LocalError() LocalError
	ClusterSize() int
}

// LocalError is the 2x2 symmetric position error of a hit in the sensor
// frame (mm²).
type LocalError struct {
	XX, XY, YY float64
}

// Cluster describes the pixel cluster a hit was reconstructed from.
type Cluster struct {
	MinPixelRow  int
	MinPixelCol  int
	Size         int
	SizeRow      int
	SizeCol      int
	IsOnEdge     bool
	HasBadPixels bool
	SpanTwoROCs  bool
}

// RecHit is a reconstructed pixel hit in the local sensor frame.
type RecHit struct {
	Point   r2.Vec // mm
	Error   LocalError
	Cluster Cluster
}

// NewRecHit returns a hit at point with the given error and cluster shape.
func NewRecHit(point r2.Vec, err LocalError, cluster Cluster) RecHit {
	return RecHit{Point: point, Error: err, Cluster: cluster}
}

func (h RecHit) LocalPoint() r2.Vec     { return h.Point }
func (h RecHit) LocalError() LocalError { return h.Error }
func (h RecHit) ClusterSize() int       { return h.Cluster.Size }

// XY is an (x, y) pair such as a residual or a pull.
type XY struct {
	X, Y float64
}

// FittedRecHit is a RecHit annotated with the outcome of a track fit.
//
// The flags obey usedForFit => realHit, enforced by the setters only:
// SetUsedForFit(true) marks the hit real, SetRealHit(false) drops it from
// the fit.
type FittedRecHit struct {
	RecHit

	global     r3.Vec // mm, track projected on the sensor
	residual   XY     // mm, measured minus predicted
	pull       XY     // residual over its uncertainty
	usedForFit bool
	realHit    bool
}

// NewFittedRecHit wraps hit with fit information. Both flags start false.
func NewFittedRecHit(hit RecHit, global r3.Vec, residual, pull XY) FittedRecHit {
	return FittedRecHit{
		RecHit:   hit,
		global:   global,
		residual: residual,
		pull:     pull,
	}
}

// GlobalCoordinates returns the track position on the sensor, global frame.
func (h *FittedRecHit) GlobalCoordinates() r3.Vec { return h.global }

func (h *FittedRecHit) SetGlobalCoordinates(p r3.Vec) { h.global = p }

func (h *FittedRecHit) XResidual() float64 { return h.residual.X }
func (h *FittedRecHit) YResidual() float64 { return h.residual.Y }

// Residual returns (dx, dy).
func (h *FittedRecHit) Residual() XY { return h.residual }

func (h *FittedRecHit) XPull() float64 { return h.pull.X }
func (h *FittedRecHit) YPull() float64 { return h.pull.Y }

// Pull returns (px, py).
func (h *FittedRecHit) Pull() XY { return h.pull }

// XPullNormalization returns the x uncertainty implied by residual/pull.
// A zero pull yields Inf or NaN.
func (h *FittedRecHit) XPullNormalization() float64 { return h.residual.X / h.pull.X }

// YPullNormalization is XPullNormalization for y.
func (h *FittedRecHit) YPullNormalization() float64 { return h.residual.Y / h.pull.Y }

// SetUsedForFit sets fit membership. A hit used for the fit is always real.
func (h *FittedRecHit) SetUsedForFit(used bool) {
	if used {
		h.realHit = true
	}
	h.usedForFit = used
}

func (h *FittedRecHit) IsUsedForFit() bool { return h.usedForFit }

// SetRealHit marks the hit as a measurement (true) or an expected,
// placeholder position (false). Placeholders are never used for the fit.
func (h *FittedRecHit) SetRealHit(real bool) {
	if !real {
		h.usedForFit = false
	}
	h.realHit = real
}

func (h *FittedRecHit) IsRealHit() bool { return h.realHit }

var (
	_ Hit = RecHit{}
	_ Hit = (*FittedRecHit)(nil)
)
