package transform

import (
	"math"

	"github.com/wroge/wgs84"
)

// MercatorMaxLat is the latitude at which Web Mercator is clipped.
const MercatorMaxLat = 85.05112878

var toWebMercator = wgs84.EPSG().Transform(4326, 3857)

// Mercator projects a ground point onto EPSG:3857 metres. Latitudes beyond
// the projection's limit are clamped.
func Mercator(latDeg, lonDeg float64) (x, y float64) {
	latDeg = math.Max(-MercatorMaxLat, math.Min(MercatorMaxLat, latDeg))
	x, y, _ = toWebMercator(lonDeg, latDeg, 0)
	return x, y
}
