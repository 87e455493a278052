// Package detid decodes the 32-bit detector element ids used by the
// very-forward roman pot detectors.
//
// Layout (most significant bit first):
//
//	[31:28] detector (7 = very forward)
//	[27:25] sub-detector (3 strip, 4 pixel, 5 diamond)
//	[24]    arm
//	[23:22] station
//	[21:19] roman pot
//	[18:16] plane (pixel only)
package detid

import (
	"errors"
	"fmt"
)

// DetID is a raw detector element id.
type DetID uint32

// SubDetector identifies the technology of a roman pot sensor.
type SubDetector uint32

const (
	SubDetectorStrip   SubDetector = 3
	SubDetectorPixel   SubDetector = 4
	SubDetectorDiamond SubDetector = 5
)

// DetectorVeryForward is the top-level detector code.
const DetectorVeryForward = 7

const (
	startDetBit     = 28
	maskDet         = 0xF
	startSubdetBit  = 25
	maskSubdet      = 0x7
	startArmBit     = 24
	maskArm         = 0x1
	startStationBit = 22
	maskStation     = 0x3
	startRPBit      = 19
	maskRP          = 0x7
	startPlaneBit   = 16
	maskPlane       = 0x7
)

// ErrOutOfRange is returned when a field does not fit its bit mask.
var ErrOutOfRange = errors.New("detid: field out of range")

// NewPixelDetID builds the id of a pixel plane.
func NewPixelDetID(arm, station, rp, plane uint32) (DetID, error) {
	switch {
	case arm > maskArm:
		return 0, fmt.Errorf("arm %d: %w", arm, ErrOutOfRange)
	case station > maskStation:
		return 0, fmt.Errorf("station %d: %w", station, ErrOutOfRange)
	case rp > maskRP:
		return 0, fmt.Errorf("rp %d: %w", rp, ErrOutOfRange)
	case plane > maskPlane:
		return 0, fmt.Errorf("plane %d: %w", plane, ErrOutOfRange)
	}

	raw := uint32(DetectorVeryForward)<<startDetBit |
		uint32(SubDetectorPixel)<<startSubdetBit |
		arm<<startArmBit |
		station<<startStationBit |
		rp<<startRPBit |
		plane<<startPlaneBit
	return DetID(raw), nil
}

// MustPixelDetID is NewPixelDetID that panics on invalid input. Intended
// for tests and fixed tables.
func MustPixelDetID(arm, station, rp, plane uint32) DetID {
	id, err := NewPixelDetID(arm, station, rp, plane)
	if err != nil {
		panic(err)
	}
	return id
}

func (d DetID) field(start, mask uint32) uint32 {
	return (uint32(d) >> start) & mask
}

// Detector returns the top-level detector code.
func (d DetID) Detector() uint32 { return d.field(startDetBit, maskDet) }

// SubDetector returns the sub-detector code.
func (d DetID) SubDetector() SubDetector { return SubDetector(d.field(startSubdetBit, maskSubdet)) }

// Arm returns 0 (sector 45) or 1 (sector 56).
func (d DetID) Arm() uint32 { return d.field(startArmBit, maskArm) }

// Station returns the station number.
func (d DetID) Station() uint32 { return d.field(startStationBit, maskStation) }

// RP returns the roman pot number within the station.
func (d DetID) RP() uint32 { return d.field(startRPBit, maskRP) }

// Plane returns the sensor plane within the pot.
func (d DetID) Plane() uint32 { return d.field(startPlaneBit, maskPlane) }

// IsPixel reports whether d names a very-forward pixel sensor.
func (d DetID) IsPixel() bool {
	return d.Detector() == DetectorVeryForward && d.SubDetector() == SubDetectorPixel
}

// RPID returns the id of the roman pot containing d (plane bits cleared).
func (d DetID) RPID() DetID {
	return DetID(uint32(d) &^ (maskPlane << startPlaneBit))
}

func (d DetID) String() string {
	return fmt.Sprintf("arm=%d station=%d rp=%d plane=%d", d.Arm(), d.Station(), d.RP(), d.Plane())
}

func (s SubDetector) String() string {
	switch s {
	case SubDetectorStrip:
		return "strip"
	case SubDetectorPixel:
		return "pixel"
	case SubDetectorDiamond:
		return "diamond"
	default:
		return fmt.Sprintf("subdetector(%d)", uint32(s))
	}
}
