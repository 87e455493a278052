package pixeltrack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLess(t *testing.T) {
	t.Parallel()

	mk := func(z0 float64, p ParameterVector) *LocalTrack {
		return NewLocalTrack(z0, p, CovarianceMatrix{}, 0)
	}

	tests := []struct {
		name string
		a, b *LocalTrack
		want bool
	}{
		{"smaller z0", mk(1, ParameterVector{9, 9, 9, 9}), mk(2, ParameterVector{}), true},
		{"larger z0", mk(3, ParameterVector{}), mk(2, ParameterVector{9}), false},
		{"x0 breaks tie", mk(1, ParameterVector{0, 5}), mk(1, ParameterVector{1, 0}), true},
		{"ty breaks tie", mk(1, ParameterVector{1, 2, 3, 4}), mk(1, ParameterVector{1, 2, 3, 5}), true},
		{"equal", mk(1, ParameterVector{1, 2, 3, 4}), mk(1, ParameterVector{1, 2, 3, 4}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Less(tt.a, tt.b))
		})
	}
}

func TestSortTracks(t *testing.T) {
	t.Parallel()

	a := NewLocalTrack(2, ParameterVector{0}, CovarianceMatrix{}, 0)
	b := NewLocalTrack(1, ParameterVector{5}, CovarianceMatrix{}, 0)
	c := NewLocalTrack(1, ParameterVector{3}, CovarianceMatrix{}, 0)
	d := NewLocalTrack(1, ParameterVector{3}, CovarianceMatrix{}, 1)

	tracks := []*LocalTrack{a, b, c, d}
	SortTracks(tracks)

	assert.Equal(t, []*LocalTrack{c, d, b, a}, tracks)
}
