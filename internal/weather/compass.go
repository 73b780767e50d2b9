package weather

import "math"

var compassPoints = [16]string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

// CompassPoint maps a wind direction in degrees to a 16-point label. Each
// point covers 22.5 degrees centred on its bearing, lower edge inclusive.
func CompassPoint(deg *float64) string {
	if deg == nil || math.IsNaN(*deg) || math.IsInf(*deg, 0) {
		return "?"
	}
	d := math.Mod(*deg, 360)
	if d < 0 {
		d += 360
	}
	ix := int(math.Floor((d+11.25)/22.5)) % 16
	return compassPoints[ix]
}
