package geo

// Interpolate maps x linearly from [x0, x1] onto [y0, y1], clamping outside
// the domain: x <= x0 yields exactly y0 and x >= x1 yields exactly y1.
// A degenerate domain (x1 <= x0) is a step at x0.
func Interpolate(x, x0, x1, y0, y1 float64) float64 {
	if x <= x0 {
		return y0
	}
	if x >= x1 {
		return y1
	}
	return y0 + (x-x0)*(y1-y0)/(x1-x0)
}
