package mmd

import (
	"math"

	"github.com/binzume/mmdio/geom"
)

// BoneCurves is the Bezier interpolation of a bone keyframe, one curve per
// channel. VMD stores each curve as four bytes in the range 0..127; the
// curves here keep the control points normalized to the unit square.
type BoneCurves struct {
	X        geom.Bezier
	Y        geom.Bezier
	Z        geom.Bezier
	Rotation geom.Bezier
}

// CameraCurves is the Bezier interpolation of a camera keyframe.
type CameraCurves struct {
	X        geom.Bezier
	Y        geom.Bezier
	Z        geom.Bezier
	Rotation geom.Bezier
	Distance geom.Bezier
	FoV      geom.Bezier
}

func NewBoneCurves() BoneCurves {
	lin := *geom.NewLinearBezier()
	return BoneCurves{X: lin, Y: lin, Z: lin, Rotation: lin}
}

func NewCameraCurves() CameraCurves {
	lin := *geom.NewLinearBezier()
	return CameraCurves{X: lin, Y: lin, Z: lin, Rotation: lin, Distance: lin, FoV: lin}
}

func curvePoint(x, y byte) geom.Vector2 {
	return geom.Vector2{X: float32(x) / 127, Y: float32(y) / 127}
}

// quantizeCurveByte converts a normalized control value back to the file
// representation, rounding to nearest to minimize round-trip drift.
func quantizeCurveByte(v float32) byte {
	n := math.Round(float64(v) * 127)
	if n < 0 {
		n = 0
	} else if n > 127 {
		n = 127
	}
	return byte(n)
}

// decodeBoneCurves reads the canonical control bytes out of the 64-byte
// interpolation block. Channel c keeps x1 at b[16c], y1 at b[16c+4],
// x2 at b[16c+8] and y2 at b[16c+12]; the remaining bytes are shifted
// copies of the same data.
func decodeBoneCurves(b []byte) BoneCurves {
	ch := func(base int) geom.Bezier {
		return geom.Bezier{
			P1: curvePoint(b[base], b[base+4]),
			P2: curvePoint(b[base+8], b[base+12]),
		}
	}
	return BoneCurves{
		X:        ch(0),
		Y:        ch(16),
		Z:        ch(32),
		Rotation: ch(48),
	}
}

// encodeBoneCurves builds the full 64-byte block MikuMikuDance itself
// writes: four rows, each shifting the 16 control bytes left by one with
// zero padding.
func encodeBoneCurves(c BoneCurves) []byte {
	q := quantizeCurveByte
	seq := [16]byte{
		q(c.X.P1.X), q(c.Y.P1.X), q(c.Z.P1.X), q(c.Rotation.P1.X),
		q(c.X.P1.Y), q(c.Y.P1.Y), q(c.Z.P1.Y), q(c.Rotation.P1.Y),
		q(c.X.P2.X), q(c.Y.P2.X), q(c.Z.P2.X), q(c.Rotation.P2.X),
		q(c.X.P2.Y), q(c.Y.P2.Y), q(c.Z.P2.Y), q(c.Rotation.P2.Y),
	}
	b := make([]byte, 64)
	for row := 0; row < 4; row++ {
		copy(b[row*16:], seq[row:])
	}
	// MMD zeroes the two bytes after the first row's x control values.
	b[2], b[3] = 0, 0
	return b
}

// decodeCameraCurves reads the 24-byte camera interpolation block: six
// channels of four bytes each, laid out x1, x2, y1, y2.
func decodeCameraCurves(b []byte) CameraCurves {
	ch := func(base int) geom.Bezier {
		return geom.Bezier{
			P1: curvePoint(b[base], b[base+2]),
			P2: curvePoint(b[base+1], b[base+3]),
		}
	}
	return CameraCurves{
		X:        ch(0),
		Y:        ch(4),
		Z:        ch(8),
		Rotation: ch(12),
		Distance: ch(16),
		FoV:      ch(20),
	}
}

func encodeCameraCurves(c CameraCurves) []byte {
	b := make([]byte, 24)
	q := quantizeCurveByte
	for i, ch := range []geom.Bezier{c.X, c.Y, c.Z, c.Rotation, c.Distance, c.FoV} {
		b[i*4] = q(ch.P1.X)
		b[i*4+1] = q(ch.P2.X)
		b[i*4+2] = q(ch.P1.Y)
		b[i*4+3] = q(ch.P2.Y)
	}
	return b
}
