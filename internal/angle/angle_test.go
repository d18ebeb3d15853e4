package angle

import (
	"math"
	"testing"
)

func TestNormalizeNonFinite(t *testing.T) {
	cases := []float64{math.NaN(), math.Inf(1), math.Inf(-1)}
	for _, c := range cases {
		if got := Normalize(c); got != 0 {
			t.Errorf("Normalize(%v) = %v, want 0", c, got)
		}
	}
}

func TestNormalizeRange(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{0, 0},
		{720, 0},
		{721, 1},
		{-1, 719},
		{-721, 719},
		{1440.5, 0.5},
	}
	for _, c := range cases {
		got := Normalize(c.in)
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("Normalize(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for deg := 0.0; deg < 720; deg += 0.37 {
		q := FromFloat(deg)
		back := q.ToFloat()
		if math.Abs(back-deg) > 1.0/65536 {
			t.Fatalf("round trip %v -> %v -> %v exceeds 1/65536 tolerance", deg, q, back)
		}
	}
}

func TestDistanceInvariant(t *testing.T) {
	for from := 0.0; from < 720; from += 17.3 {
		for to := 0.0; to < 720; to += 23.1 {
			f, tt := FromFloat(from), FromFloat(to)
			d := Distance(f, tt)
			if d < 0 || d >= Full {
				t.Fatalf("Distance(%v,%v)=%v out of [0,720)", from, to, d)
			}
			got := f.Add(d)
			if math.Abs(got.ToFloat()-tt.ToFloat()) > 1.0/65536 {
				t.Fatalf("(%v + Distance(%v,%v)) = %v, want %v", from, from, to, got.ToFloat(), tt.ToFloat())
			}
		}
	}
}

func TestDistanceZero(t *testing.T) {
	a := FromFloat(123.4)
	if d := Distance(a, a); d != 0 {
		t.Errorf("Distance(a,a) = %v, want 0", d)
	}
}
