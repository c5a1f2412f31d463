package geom

// Bezier is a cubic Bezier curve on the unit square with fixed end points
// (0,0) and (1,1). P1 and P2 are the two interior control points. MMD motion
// data stores interpolation curves in this form.
type Bezier struct {
	P1 Vector2
	P2 Vector2
}

// NewLinearBezier returns the curve MMD uses for linear interpolation
// (control points 20/127 and 107/127).
func NewLinearBezier() *Bezier {
	return &Bezier{P1: Vector2{X: 20.0 / 127, Y: 20.0 / 127}, P2: Vector2{X: 107.0 / 127, Y: 107.0 / 127}}
}

func (b *Bezier) Eval(t Element) *Vector2 {
	u := 1 - t
	c1 := 3 * u * u * t
	c2 := 3 * u * t * t
	c3 := t * t * t
	return &Vector2{
		X: c1*b.P1.X + c2*b.P2.X + c3,
		Y: c1*b.P1.Y + c2*b.P2.Y + c3,
	}
}

// YForX evaluates the curve as a function y(x) by bisecting on the parameter.
// x is clamped to [0,1].
func (b *Bezier) YForX(x Element) Element {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	lo, hi := Element(0), Element(1)
	for i := 0; i < 32; i++ {
		t := (lo + hi) / 2
		if b.Eval(t).X < x {
			lo = t
		} else {
			hi = t
		}
	}
	return b.Eval((lo + hi) / 2).Y
}

// IsLinear reports whether the curve matches MMD's linear interpolation
// control points.
func (b *Bezier) IsLinear() bool {
	lin := NewLinearBezier()
	return b.P1 == lin.P1 && b.P2 == lin.P2
}
