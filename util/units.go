package util

import "math"

const pixelEpsilon = 0.0001

// DpToPixels converts device-independent units to physical pixels using the caller's scale factor.
// A non-positive scale is treated as 1.
func DpToPixels(dp float64, scale float64) int {
	if scale <= 0 {
		scale = 1
	}
	return int(math.Floor(dp * scale))
}

// PixelsToDp is the inverse of DpToPixels. Values too close to zero collapse to exactly zero.
func PixelsToDp(px float64, scale float64) float64 {
	if math.Abs(px) < pixelEpsilon {
		return 0
	}
	if scale <= 0 {
		scale = 1
	}
	return px / scale
}
