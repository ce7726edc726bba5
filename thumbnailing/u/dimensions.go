package u

// TargetDimensions works out the box an image of srcWidth x srcHeight should be downsampled
// into. A desired dimension of zero or less is unconstrained. The bool is false when the
// source already fits.
func TargetDimensions(srcWidth int, srcHeight int, desiredWidth int, desiredHeight int) (bool, int, int) {
	if srcWidth <= 0 || srcHeight <= 0 {
		return false, srcWidth, srcHeight
	}
	if desiredWidth <= 0 && desiredHeight <= 0 {
		return false, srcWidth, srcHeight
	}
	if desiredWidth <= 0 {
		desiredWidth = srcWidth
	}
	if desiredHeight <= 0 {
		desiredHeight = srcHeight
	}

	if srcWidth <= desiredWidth && srcHeight <= desiredHeight {
		return false, srcWidth, srcHeight
	}
	return true, desiredWidth, desiredHeight
}
