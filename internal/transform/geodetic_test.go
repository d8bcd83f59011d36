package transform

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestGeodeticToECEFMagnitude(t *testing.T) {
	// Equatorial radius.
	x, y, z := GeodeticToECEF(Geodetic{})
	if mag := math.Sqrt(x*x + y*y + z*z); math.Abs(mag-6378.137) > 1e-3 {
		t.Errorf("equator magnitude = %.4f km, want 6378.137", mag)
	}

	// Polar radius.
	x, y, z = GeodeticToECEF(Geodetic{LatDeg: 90})
	if mag := math.Sqrt(x*x + y*y + z*z); math.Abs(mag-6356.7523) > 1e-3 {
		t.Errorf("pole magnitude = %.4f km, want 6356.7523", mag)
	}
}

func TestGeodeticRoundTrip(t *testing.T) {
	points := []Geodetic{
		{LatDeg: 0, LonDeg: 0, AltKm: 420},
		{LatDeg: 51.64, LonDeg: -120.5, AltKm: 410},
		{LatDeg: -33.9, LonDeg: 151.2, AltKm: 550},
		{LatDeg: 89.9, LonDeg: 10, AltKm: 800},
		{LatDeg: 12, LonDeg: 179.9, AltKm: 35786},
	}

	for _, g := range points {
		x, y, z := GeodeticToECEF(g)
		got := ECEFToGeodetic(x, y, z)
		if math.Abs(got.LatDeg-g.LatDeg) > 1e-7 || math.Abs(got.LonDeg-g.LonDeg) > 1e-7 || math.Abs(got.AltKm-g.AltKm) > 1e-6 {
			t.Errorf("round trip %+v -> %+v", g, got)
		}
	}
}

func TestRenderScalePoint(t *testing.T) {
	s := RenderScale{EarthRadius: 1, AltitudeOffset: 0.01}

	p := s.Point(Geodetic{LatDeg: 0, LonDeg: 0, AltKm: 0})
	if math.Abs(p.X-1.01) > 1e-12 || p.Y != 0 || p.Z != 0 {
		t.Errorf("surface point at origin = %v", p)
	}

	// North pole sits on +Z.
	p = s.Point(Geodetic{LatDeg: 90, AltKm: 6371})
	if math.Abs(p.Z-2.01) > 1e-12 || math.Abs(p.X) > 1e-12 {
		t.Errorf("pole point = %v", p)
	}

	// 90°E sits on +Y.
	p = s.Point(Geodetic{LonDeg: 90, AltKm: 637.1})
	if math.Abs(p.Y-1.11) > 1e-12 {
		t.Errorf("90E point = %v", p)
	}
	if r := r3.Norm(p); math.Abs(r-1.11) > 1e-12 {
		t.Errorf("|p| = %v", r)
	}
}

func TestMercator(t *testing.T) {
	x, y := Mercator(0, 0)
	if math.Abs(x) > 1e-3 || math.Abs(y) > 1e-3 {
		t.Errorf("origin = (%v, %v)", x, y)
	}

	// 180°E maps to the half circumference of the WGS-84 equator.
	x, _ = Mercator(0, 180)
	if math.Abs(x-20037508.342789244) > 1e-2 {
		t.Errorf("x(180) = %.6f", x)
	}

	// Latitude clamps instead of diverging at the pole.
	_, yPole := Mercator(90, 0)
	_, yMax := Mercator(MercatorMaxLat, 0)
	if math.IsInf(yPole, 0) || math.IsNaN(yPole) || yPole != yMax {
		t.Errorf("y(90) = %v, y(max) = %v", yPole, yMax)
	}

	_, yN := Mercator(45, 0)
	_, yS := Mercator(-45, 0)
	if math.Abs(yN+yS) > 1e-3 || yN <= 0 {
		t.Errorf("y(45) = %v, y(-45) = %v", yN, yS)
	}
}
