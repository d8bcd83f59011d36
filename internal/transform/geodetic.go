package transform

import "math"

// WGS-84 ellipsoid, km.
const (
	wgs84A  = 6378.137
	wgs84F  = 1.0 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)
)

// Geodetic is a WGS-84 position: degrees and kilometres above the ellipsoid.
type Geodetic struct {
	LatDeg float64
	LonDeg float64
	AltKm  float64
}

// ECEFToGeodetic converts ECEF kilometres to geodetic coordinates with
// Bowring's iteration, which settles in two or three rounds for orbital radii.
func ECEFToGeodetic(x, y, z float64) Geodetic {
	lon := math.Atan2(y, x)
	p := math.Hypot(x, y)

	lat := math.Atan2(z, p*(1-wgs84E2))
	for i := 0; i < 5; i++ {
		sinLat := math.Sin(lat)
		n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		lat = math.Atan2(z+wgs84E2*n*sinLat, p)
	}

	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = p/cosLat - n
	} else {
		alt = math.Abs(z)/math.Abs(sinLat) - n*(1-wgs84E2)
	}

	return Geodetic{
		LatDeg: lat * 180 / math.Pi,
		LonDeg: lon * 180 / math.Pi,
		AltKm:  alt,
	}
}

// GeodeticToECEF is the inverse of ECEFToGeodetic.
func GeodeticToECEF(g Geodetic) (x, y, z float64) {
	lat := g.LatDeg * math.Pi / 180
	lon := g.LonDeg * math.Pi / 180
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)

	// Radius of curvature in the prime vertical.
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	x = (n + g.AltKm) * cosLat * math.Cos(lon)
	y = (n + g.AltKm) * cosLat * math.Sin(lon)
	z = (n*(1-wgs84E2) + g.AltKm) * sinLat
	return x, y, z
}
