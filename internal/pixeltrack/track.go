package pixeltrack

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/pixeltrack/internal/detset"
	"github.com/banshee-data/pixeltrack/internal/pixeltrack/detid"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// Dimension is the size of the parameter vector.
	Dimension = 4
	// CovarianceSize is the number of stored covariance elements.
	CovarianceSize = Dimension * Dimension
)

// Parameter indices.
const (
	ParX0 = iota
	ParY0
	ParTx
	ParTy
)

// ParameterVector holds (x0, y0, tx, ty).
type ParameterVector [Dimension]float64

// CovarianceMatrix is the parameter covariance, row-major. The full matrix
// is stored; symmetry is the producer's responsibility.
type CovarianceMatrix [CovarianceSize]float64

// ErrIndexOutOfRange is returned by the bounds-checked element accessors.
var ErrIndexOutOfRange = errors.New("pixeltrack: index out of range")

// At returns element (i, j) without bounds checking beyond the array's own.
func (c *CovarianceMatrix) At(i, j int) float64 {
	return c[i*Dimension+j]
}

// Dense returns a copy of c as a gonum matrix.
func (c *CovarianceMatrix) Dense() *mat.Dense {
	data := make([]float64, CovarianceSize)
	copy(data, c[:])
	return mat.NewDense(Dimension, Dimension, data)
}

// CovarianceFromMatrix copies a 4x4 gonum matrix into a CovarianceMatrix.
func CovarianceFromMatrix(m mat.Matrix) (CovarianceMatrix, error) {
	var c CovarianceMatrix
	r, k := m.Dims()
	if r != Dimension || k != Dimension {
		return c, fmt.Errorf("covariance must be %dx%d, got %dx%d", Dimension, Dimension, r, k)
	}
	for i := 0; i < Dimension; i++ {
		for j := 0; j < Dimension; j++ {
			c[i*Dimension+j] = m.At(i, j)
		}
	}
	return c, nil
}

// LocalTrack is a straight-line track segment reconstructed in one roman pot:
//
//	x(z) = x0 + tx*(z - z0)
//	y(z) = y0 + ty*(z - z0)
//
// The zero value is an invalid track with no hits at z0 = 0.
type LocalTrack struct {
	hits detset.Vector[FittedRecHit]

	params ParameterVector

	// z0 is where x0 and y0 are evaluated, taken from the pot's global
	// translation in the alignment geometry.
	z0 float64

	cov CovarianceMatrix

	chiSquared float64
	valid      bool

	// numberOfPointsUsedForFit counts AddHit calls with a used-for-fit hit.
	// It is not recomputed from the hits; see CountHitsUsedForFit.
	numberOfPointsUsedForFit int
}

// NewLocalTrack returns a track with the given fit result and no hits.
// The track starts invalid; the producer calls SetValid once it accepts
// the fit.
func NewLocalTrack(z0 float64, params ParameterVector, cov CovarianceMatrix, chiSquared float64) *LocalTrack {
	return &LocalTrack{
		params:     params,
		z0:         z0,
		cov:        cov,
		chiSquared: chiSquared,
	}
}

// Hits returns the fitted hits grouped by detector element.
func (t *LocalTrack) Hits() *detset.Vector[FittedRecHit] {
	return &t.hits
}

// AddHit appends hit to the set of id. The used-for-fit counter is
// incremented when the hit is flagged as used at the time of the call;
// later changes to the stored hit's flags are not reflected.
func (t *LocalTrack) AddHit(id detid.DetID, hit FittedRecHit) {
	t.hits.FindOrInsert(uint32(id)).Push(hit)
	if hit.IsUsedForFit() {
		t.numberOfPointsUsedForFit++
	}
}

// NumberOfPointsUsedForFit returns the running counter maintained by AddHit.
func (t *LocalTrack) NumberOfPointsUsedForFit() int {
	return t.numberOfPointsUsedForFit
}

// CountHitsUsedForFit recounts used-for-fit hits from the hit collection.
// It differs from NumberOfPointsUsedForFit only if a stored hit's flags
// were changed after insertion.
func (t *LocalTrack) CountHitsUsedForFit() int {
	n := 0
	t.hits.Each(func(_ uint32, h FittedRecHit) bool {
		if h.IsUsedForFit() {
			n++
		}
		return true
	})
	return n
}

func (t *LocalTrack) X0() float64         { return t.params[ParX0] }
func (t *LocalTrack) X0Variance() float64 { return t.cov.At(ParX0, ParX0) }
func (t *LocalTrack) X0Sigma() float64    { return math.Sqrt(t.X0Variance()) }

func (t *LocalTrack) Y0() float64         { return t.params[ParY0] }
func (t *LocalTrack) Y0Variance() float64 { return t.cov.At(ParY0, ParY0) }
func (t *LocalTrack) Y0Sigma() float64    { return math.Sqrt(t.Y0Variance()) }

func (t *LocalTrack) Tx() float64         { return t.params[ParTx] }
func (t *LocalTrack) TxVariance() float64 { return t.cov.At(ParTx, ParTx) }
func (t *LocalTrack) TxSigma() float64    { return math.Sqrt(t.TxVariance()) }

func (t *LocalTrack) Ty() float64         { return t.params[ParTy] }
func (t *LocalTrack) TyVariance() float64 { return t.cov.At(ParTy, ParTy) }
func (t *LocalTrack) TySigma() float64    { return math.Sqrt(t.TyVariance()) }

func (t *LocalTrack) Z0() float64      { return t.z0 }
func (t *LocalTrack) SetZ0(z0 float64) { t.z0 = z0 }

// DirectionVector returns the unit vector along (tx, ty, 1).
func (t *LocalTrack) DirectionVector() r3.Vec {
	return r3.Unit(r3.Vec{X: t.Tx(), Y: t.Ty(), Z: 1})
}

// ParameterVector returns a copy of (x0, y0, tx, ty).
func (t *LocalTrack) ParameterVector() ParameterVector { return t.params }

func (t *LocalTrack) SetParameterVector(p ParameterVector) { t.params = p }

// Parameter returns parameter i, or ErrIndexOutOfRange.
func (t *LocalTrack) Parameter(i int) (float64, error) {
	if i < 0 || i >= Dimension {
		return 0, fmt.Errorf("parameter %d: %w", i, ErrIndexOutOfRange)
	}
	return t.params[i], nil
}

// CovarianceMatrix returns a copy of the parameter covariance.
func (t *LocalTrack) CovarianceMatrix() CovarianceMatrix { return t.cov }

func (t *LocalTrack) SetCovarianceMatrix(c CovarianceMatrix) { t.cov = c }

// CovarianceElement returns covariance element (i, j), or
// ErrIndexOutOfRange when either index is outside [0, Dimension).
func (t *LocalTrack) CovarianceElement(i, j int) (float64, error) {
	if i < 0 || i >= Dimension || j < 0 || j >= Dimension {
		return 0, fmt.Errorf("covariance element [%d,%d]: %w", i, j, ErrIndexOutOfRange)
	}
	return t.cov.At(i, j), nil
}

func (t *LocalTrack) ChiSquared() float64     { return t.chiSquared }
func (t *LocalTrack) SetChiSquared(c float64) { t.chiSquared = c }

// NDF is 2 constraints per used hit minus the 4 free parameters. It is
// zero or negative for fewer than 3 used hits.
func (t *LocalTrack) NDF() int {
	return 2*t.numberOfPointsUsedForFit - Dimension
}

// ChiSquaredOverNDF is not guarded against NDF <= 0: callers check
// IsValid or NDF first.
func (t *LocalTrack) ChiSquaredOverNDF() float64 {
	return t.chiSquared / float64(t.NDF())
}

// TrackPoint returns the point the track passes through at z.
func (t *LocalTrack) TrackPoint(z float64) r3.Vec {
	dz := z - t.z0
	return r3.Vec{
		X: t.params[ParX0] + t.params[ParTx]*dz,
		Y: t.params[ParY0] + t.params[ParTy]*dz,
		Z: z,
	}
}

// TrackCentrePoint returns (x0, y0, z0).
func (t *LocalTrack) TrackCentrePoint() r3.Vec {
	return r3.Vec{X: t.params[ParX0], Y: t.params[ParY0], Z: t.z0}
}

// InterpolationJacobian returns d(x, y)/d(x0, y0, tx, ty) at z.
func (t *LocalTrack) InterpolationJacobian(z float64) *mat.Dense {
	dz := z - t.z0
	return mat.NewDense(2, Dimension, []float64{
		1, 0, dz, 0,
		0, 1, 0, dz,
	})
}

// TrackPointInterpolationCovariance propagates the parameter covariance to
// the (x, y) position at z: J * C * Jᵀ.
func (t *LocalTrack) TrackPointInterpolationCovariance(z float64) *mat.Dense {
	j := t.InterpolationJacobian(z)

	var jc mat.Dense
	jc.Mul(j, t.cov.Dense())

	var out mat.Dense
	out.Mul(&jc, j.T())
	return &out
}

func (t *LocalTrack) IsValid() bool       { return t.valid }
func (t *LocalTrack) SetValid(valid bool) { t.valid = valid }
