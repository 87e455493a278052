package pixeltrack

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/banshee-data/pixeltrack/internal/pixeltrack/detid"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func diagonalCovariance(v0, v1, v2, v3 float64) CovarianceMatrix {
	var c CovarianceMatrix
	c[0] = v0
	c[5] = v1
	c[10] = v2
	c[15] = v3
	return c
}

// randomCovariance returns A*Aᵀ for a random A, which is symmetric PSD.
func randomCovariance(rng *rand.Rand) CovarianceMatrix {
	var a [Dimension][Dimension]float64
	for i := range a {
		for j := range a[i] {
			a[i][j] = rng.Float64()*2 - 1
		}
	}
	var c CovarianceMatrix
	for i := 0; i < Dimension; i++ {
		for j := 0; j < Dimension; j++ {
			var s float64
			for k := 0; k < Dimension; k++ {
				s += a[i][k] * a[j][k]
			}
			c[i*Dimension+j] = s
		}
	}
	return c
}

func TestLocalTrack_ZeroValue(t *testing.T) {
	t.Parallel()

	var tr LocalTrack
	assert.Equal(t, 0.0, tr.Z0())
	assert.Equal(t, 0.0, tr.ChiSquared())
	assert.False(t, tr.IsValid())
	assert.Equal(t, 0, tr.NumberOfPointsUsedForFit())
	assert.Equal(t, 0, tr.Hits().Size())
	assert.Equal(t, -4, tr.NDF())
}

func TestLocalTrack_Accessors(t *testing.T) {
	t.Parallel()

	cov := diagonalCovariance(4, 9, 0.01, 0.0004)
	tr := NewLocalTrack(10, ParameterVector{1, 2, 0.1, 0.2}, cov, 5)

	assert.Equal(t, 1.0, tr.X0())
	assert.Equal(t, 2.0, tr.Y0())
	assert.Equal(t, 0.1, tr.Tx())
	assert.Equal(t, 0.2, tr.Ty())
	assert.Equal(t, 10.0, tr.Z0())
	assert.Equal(t, 5.0, tr.ChiSquared())
	assert.False(t, tr.IsValid())

	assert.Equal(t, 4.0, tr.X0Variance())
	assert.Equal(t, 2.0, tr.X0Sigma())
	assert.Equal(t, 9.0, tr.Y0Variance())
	assert.Equal(t, 3.0, tr.Y0Sigma())
	assert.Equal(t, 0.01, tr.TxVariance())
	assert.InDelta(t, 0.1, tr.TxSigma(), 1e-15)
	assert.Equal(t, 0.0004, tr.TyVariance())
	assert.InDelta(t, 0.02, tr.TySigma(), 1e-15)

	assert.Equal(t, ParameterVector{1, 2, 0.1, 0.2}, tr.ParameterVector())
	assert.Equal(t, cov, tr.CovarianceMatrix())
}

func TestLocalTrack_NegativeVarianceGivesNaNSigma(t *testing.T) {
	t.Parallel()

	tr := NewLocalTrack(0, ParameterVector{}, diagonalCovariance(-1, 1, 1, 1), 0)
	assert.True(t, math.IsNaN(tr.X0Sigma()))
	assert.Equal(t, 1.0, tr.Y0Sigma())
}

func TestLocalTrack_Setters(t *testing.T) {
	t.Parallel()

	tr := NewLocalTrack(0, ParameterVector{}, CovarianceMatrix{}, 0)
	tr.SetZ0(-3)
	tr.SetChiSquared(12.5)
	tr.SetValid(true)
	tr.SetParameterVector(ParameterVector{4, 3, 2, 1})
	cov := randomCovariance(rand.New(rand.NewPCG(7, 7)))
	tr.SetCovarianceMatrix(cov)

	assert.Equal(t, -3.0, tr.Z0())
	assert.Equal(t, 12.5, tr.ChiSquared())
	assert.True(t, tr.IsValid())
	assert.Equal(t, ParameterVector{4, 3, 2, 1}, tr.ParameterVector())
	assert.Equal(t, cov, tr.CovarianceMatrix())
}

func TestLocalTrack_ReturnedArraysAreCopies(t *testing.T) {
	t.Parallel()

	tr := NewLocalTrack(0, ParameterVector{1, 2, 3, 4}, diagonalCovariance(1, 1, 1, 1), 0)
	p := tr.ParameterVector()
	p[0] = 100
	c := tr.CovarianceMatrix()
	c[0] = 100
	d := tr.CovarianceMatrix()
	dense := d.Dense()
	dense.Set(1, 1, 100)

	assert.Equal(t, 1.0, tr.X0())
	assert.Equal(t, 1.0, tr.X0Variance())
	assert.Equal(t, 1.0, tr.Y0Variance())
}

func TestLocalTrack_BoundsCheckedAccess(t *testing.T) {
	t.Parallel()

	cov := randomCovariance(rand.New(rand.NewPCG(1, 2)))
	tr := NewLocalTrack(0, ParameterVector{1, 2, 3, 4}, cov, 0)

	v, err := tr.CovarianceElement(1, 3)
	require.NoError(t, err)
	assert.Equal(t, cov[1*Dimension+3], v)

	p, err := tr.Parameter(ParTy)
	require.NoError(t, err)
	assert.Equal(t, 4.0, p)

	bad := [][2]int{{-1, 0}, {0, -1}, {4, 0}, {0, 4}}
	for _, ij := range bad {
		_, err := tr.CovarianceElement(ij[0], ij[1])
		assert.True(t, errors.Is(err, ErrIndexOutOfRange), "indices %v", ij)
	}
	_, err = tr.Parameter(4)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
}

func TestLocalTrack_DirectionVector(t *testing.T) {
	t.Parallel()

	t.Run("degenerate slopes point along z", func(t *testing.T) {
		t.Parallel()
		tr := NewLocalTrack(0, ParameterVector{5, 5, 0, 0}, CovarianceMatrix{}, 0)
		assert.Equal(t, r3.Vec{Z: 1}, tr.DirectionVector())
	})

	t.Run("unit length for random slopes", func(t *testing.T) {
		t.Parallel()
		rng := rand.New(rand.NewPCG(3, 4))
		for i := 0; i < 1000; i++ {
			tx := (rng.Float64()*2 - 1) * 10
			ty := (rng.Float64()*2 - 1) * 10
			tr := NewLocalTrack(0, ParameterVector{0, 0, tx, ty}, CovarianceMatrix{}, 0)
			d := tr.DirectionVector()
			assert.InDelta(t, 1.0, r3.Norm(d), 1e-12)
			assert.InDelta(t, tx, d.X/d.Z, 1e-9)
			assert.InDelta(t, ty, d.Y/d.Z, 1e-9)
		}
	})
}

func TestLocalTrack_TrackPoint(t *testing.T) {
	t.Parallel()

	tr := NewLocalTrack(10, ParameterVector{1, 2, 0.1, 0.2}, CovarianceMatrix{}, 0)

	p := tr.TrackPoint(20)
	assert.InDelta(t, 2.0, p.X, 1e-12)
	assert.InDelta(t, 4.0, p.Y, 1e-12)
	assert.Equal(t, 20.0, p.Z)

	assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 10}, tr.TrackPoint(10))
	assert.Equal(t, tr.TrackCentrePoint(), tr.TrackPoint(tr.Z0()))
}

func TestLocalTrack_TrackPointAtZ0IsExact(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(5, 6))
	for i := 0; i < 1000; i++ {
		params := ParameterVector{
			rng.NormFloat64() * 10, rng.NormFloat64() * 10,
			rng.NormFloat64(), rng.NormFloat64(),
		}
		z0 := rng.Float64() * 1e5
		tr := NewLocalTrack(z0, params, CovarianceMatrix{}, 0)
		want := r3.Vec{X: params[0], Y: params[1], Z: z0}
		require.Equal(t, want, tr.TrackPoint(z0))
		require.Equal(t, want, tr.TrackCentrePoint())
	}
}

func TestLocalTrack_AddHitCountsUsedHits(t *testing.T) {
	t.Parallel()

	tr := NewLocalTrack(0, ParameterVector{}, CovarianceMatrix{}, 0)
	plane := func(p uint32) detid.DetID { return detid.MustPixelDetID(0, 2, 3, p) }

	pattern := []bool{true, false, true, true, false, false, true}
	for i, used := range pattern {
		tr.AddHit(plane(uint32(i%3)), newTestHit(used))
	}

	assert.Equal(t, 4, tr.NumberOfPointsUsedForFit())
	assert.Equal(t, 4, tr.CountHitsUsedForFit())
	assert.Equal(t, len(pattern), tr.Hits().Size())
	assert.Equal(t, 3, tr.Hits().Len())

	s, ok := tr.Hits().Find(uint32(plane(0)))
	require.True(t, ok)
	require.Len(t, s.Data, 3)
	// pattern indices 0, 3, 6 land on plane 0, in insertion order
	assert.True(t, s.Data[0].IsUsedForFit())
	assert.True(t, s.Data[1].IsUsedForFit())
	assert.True(t, s.Data[2].IsUsedForFit())
}

func TestLocalTrack_CounterIsNotRecomputed(t *testing.T) {
	t.Parallel()

	tr := NewLocalTrack(0, ParameterVector{}, CovarianceMatrix{}, 0)
	id := detid.MustPixelDetID(1, 0, 0, 0)
	tr.AddHit(id, newTestHit(true))
	tr.AddHit(id, newTestHit(true))

	s, ok := tr.Hits().Find(uint32(id))
	require.True(t, ok)
	s.Data[0].SetRealHit(false)

	assert.Equal(t, 2, tr.NumberOfPointsUsedForFit())
	assert.Equal(t, 1, tr.CountHitsUsedForFit())
}

func TestLocalTrack_NDF(t *testing.T) {
	t.Parallel()

	tr := NewLocalTrack(10, ParameterVector{1, 2, 0.1, 0.2}, CovarianceMatrix{}, 5)
	id := detid.MustPixelDetID(0, 2, 3, 0)
	for i := 0; i < 3; i++ {
		tr.AddHit(id, newTestHit(true))
	}

	assert.Equal(t, 2, tr.NDF())
	assert.Equal(t, 2.5, tr.ChiSquaredOverNDF())
}

func TestLocalTrack_NDFIsNotGuarded(t *testing.T) {
	t.Parallel()

	id := detid.MustPixelDetID(0, 0, 0, 0)

	t.Run("two used hits divide by zero", func(t *testing.T) {
		t.Parallel()
		tr := NewLocalTrack(0, ParameterVector{}, CovarianceMatrix{}, 3)
		tr.AddHit(id, newTestHit(true))
		tr.AddHit(id, newTestHit(true))
		assert.Equal(t, 0, tr.NDF())
		assert.True(t, math.IsInf(tr.ChiSquaredOverNDF(), 1))
	})

	t.Run("one used hit gives negative NDF", func(t *testing.T) {
		t.Parallel()
		tr := NewLocalTrack(0, ParameterVector{}, CovarianceMatrix{}, 3)
		tr.AddHit(id, newTestHit(true))
		assert.Equal(t, -2, tr.NDF())
		assert.Equal(t, -1.5, tr.ChiSquaredOverNDF())
	})

	t.Run("zero chi2 with zero NDF is NaN", func(t *testing.T) {
		t.Parallel()
		tr := NewLocalTrack(0, ParameterVector{}, CovarianceMatrix{}, 0)
		tr.AddHit(id, newTestHit(true))
		tr.AddHit(id, newTestHit(true))
		assert.True(t, math.IsNaN(tr.ChiSquaredOverNDF()))
	})
}

func TestLocalTrack_InterpolationCovarianceAtZ0(t *testing.T) {
	t.Parallel()

	cov := randomCovariance(rand.New(rand.NewPCG(8, 9)))
	tr := NewLocalTrack(42, ParameterVector{}, cov, 0)

	got := tr.TrackPointInterpolationCovariance(42)
	want := [][]float64{
		{cov[0], cov[1]},
		{cov[4], cov[5]},
	}
	assert.Empty(t, cmp.Diff(want, denseRows(got), approx))
}

func TestLocalTrack_InterpolationCovarianceDiagonal(t *testing.T) {
	t.Parallel()

	// var(x) = var(x0) + dz² var(tx) for uncorrelated parameters
	tr := NewLocalTrack(0, ParameterVector{}, diagonalCovariance(1, 2, 0.5, 0.25), 0)
	got := tr.TrackPointInterpolationCovariance(2)
	want := [][]float64{
		{1 + 4*0.5, 0},
		{0, 2 + 4*0.25},
	}
	assert.Empty(t, cmp.Diff(want, denseRows(got), approx))
}

func TestLocalTrack_InterpolationCovarianceMatchesPropagation(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(10, 11))
	for i := 0; i < 200; i++ {
		cov := randomCovariance(rng)
		z0 := rng.Float64() * 100
		z := z0 + (rng.Float64()*2-1)*50
		tr := NewLocalTrack(z0, ParameterVector{}, cov, 0)

		got := denseRows(tr.TrackPointInterpolationCovariance(z))
		want := propagate(cov, z-z0)
		if diff := cmp.Diff(want, got, approx); diff != "" {
			t.Fatalf("case %d (dz=%g) mismatch (-want +got):\n%s", i, z-z0, diff)
		}

		// result must stay symmetric PSD for symmetric PSD input
		assert.InDelta(t, got[0][1], got[1][0], 1e-9)
		assert.GreaterOrEqual(t, got[0][0], -1e-12)
		assert.GreaterOrEqual(t, got[1][1], -1e-12)
		assert.GreaterOrEqual(t, got[0][0]*got[1][1]-got[0][1]*got[1][0], -1e-9)
	}
}

func TestCovarianceFromMatrix(t *testing.T) {
	t.Parallel()

	cov := randomCovariance(rand.New(rand.NewPCG(12, 13)))
	back, err := CovarianceFromMatrix(cov.Dense())
	require.NoError(t, err)
	assert.Equal(t, cov, back)

	_, err = CovarianceFromMatrix(mat.NewDense(2, 2, nil))
	assert.Error(t, err)
}

// propagate computes J*C*Jᵀ element by element.
func propagate(cov CovarianceMatrix, dz float64) [][]float64 {
	j := [2][Dimension]float64{
		{1, 0, dz, 0},
		{0, 1, 0, dz},
	}
	out := [][]float64{{0, 0}, {0, 0}}
	for a := 0; a < 2; a++ {
		for b := 0; b < 2; b++ {
			var s float64
			for k := 0; k < Dimension; k++ {
				for l := 0; l < Dimension; l++ {
					s += j[a][k] * cov[k*Dimension+l] * j[b][l]
				}
			}
			out[a][b] = s
		}
	}
	return out
}

func denseRows(m mat.Matrix) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		for k := range out[i] {
			out[i][k] = m.At(i, k)
		}
	}
	return out
}
