package detid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPixelDetID_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		arm, station, rp, plane uint32
	}{
		{0, 0, 0, 0},
		{1, 2, 3, 5},
		{0, 2, 3, 1},
		{1, 3, 7, 7},
	}

	for _, tt := range tests {
		id, err := NewPixelDetID(tt.arm, tt.station, tt.rp, tt.plane)
		require.NoError(t, err)

		assert.True(t, id.IsPixel())
		assert.Equal(t, SubDetectorPixel, id.SubDetector())
		assert.Equal(t, uint32(DetectorVeryForward), id.Detector())
		assert.Equal(t, tt.arm, id.Arm())
		assert.Equal(t, tt.station, id.Station())
		assert.Equal(t, tt.rp, id.RP())
		assert.Equal(t, tt.plane, id.Plane())
	}
}

func TestNewPixelDetID_KnownValue(t *testing.T) {
	t.Parallel()

	id := MustPixelDetID(0, 2, 3, 0)
	assert.Equal(t, DetID(0x7<<28|0x4<<25|2<<22|3<<19), id)
	assert.Equal(t, "arm=0 station=2 rp=3 plane=0", id.String())
}

func TestNewPixelDetID_OutOfRange(t *testing.T) {
	t.Parallel()

	cases := map[string][4]uint32{
		"arm":     {2, 0, 0, 0},
		"station": {0, 4, 0, 0},
		"rp":      {0, 0, 8, 0},
		"plane":   {0, 0, 0, 8},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := NewPixelDetID(c[0], c[1], c[2], c[3])
			assert.True(t, errors.Is(err, ErrOutOfRange))
		})
	}

	assert.Panics(t, func() { MustPixelDetID(5, 0, 0, 0) })
}

func TestDetID_RPID(t *testing.T) {
	t.Parallel()

	a := MustPixelDetID(1, 2, 3, 4)
	b := MustPixelDetID(1, 2, 3, 0)
	assert.Equal(t, b, a.RPID())
	assert.Equal(t, uint32(0), a.RPID().Plane())
}

func TestDetID_NotPixel(t *testing.T) {
	t.Parallel()

	strip := DetID(uint32(DetectorVeryForward)<<28 | uint32(SubDetectorStrip)<<25)
	assert.False(t, strip.IsPixel())
	assert.Equal(t, "strip", strip.SubDetector().String())
	assert.Equal(t, "subdetector(6)", SubDetector(6).String())
	assert.False(t, DetID(0).IsPixel())
}
