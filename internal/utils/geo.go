package utils

// ClampRadius keeps a search radius inside (0, max]. Non-positive values fall
// back to def.
func ClampRadius(radiusKM, def, max float64) float64 {
	if radiusKM <= 0 {
		radiusKM = def
	}
	if max > 0 && radiusKM > max {
		return max
	}
	return radiusKM
}
