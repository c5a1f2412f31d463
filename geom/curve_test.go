package geom

import (
	"math"
	"testing"
)

func TestBezierEndpoints(t *testing.T) {
	b := NewLinearBezier()
	if p := b.Eval(0); p.X != 0 || p.Y != 0 {
		t.Error("Eval(0)", p)
	}
	if p := b.Eval(1); p.X != 1 || p.Y != 1 {
		t.Error("Eval(1)", p)
	}
	if !b.IsLinear() {
		t.Error("IsLinear")
	}
}

func TestBezierYForX(t *testing.T) {
	lin := NewLinearBezier()
	for _, x := range []Element{0, 0.25, 0.5, 0.75, 1} {
		y := lin.YForX(x)
		if math.Abs(float64(y-x)) > 0.02 {
			t.Errorf("linear curve: YForX(%v) = %v", x, y)
		}
	}

	ease := &Bezier{P1: Vector2{X: 1, Y: 0}, P2: Vector2{X: 1, Y: 0}}
	if y := ease.YForX(0.5); y >= 0.5 {
		t.Error("ease-in curve should stay below the diagonal", y)
	}
	if y := ease.YForX(0); y != 0 {
		t.Error("YForX(0)", y)
	}
	if y := ease.YForX(1); y != 1 {
		t.Error("YForX(1)", y)
	}
}
