package u

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

// Downsample shrinks src to fit within the target box. Images already inside the box are
// returned untouched.
func Downsample(src image.Image, width int, height int) image.Image {
	b := src.Bounds()
	shouldResize, width, height := TargetDimensions(b.Dx(), b.Dy(), width, height)
	if !shouldResize {
		return src
	}
	return imaging.Fit(src, width, height, imaging.Lanczos)
}

func IdentifyAndApplyOrientation(origBytes []byte, src image.Image, log *logrus.Entry) image.Image {
	orientation, err := GetExifOrientation(origBytes)
	if err != nil {
		// assume no orientation if there was an error reading the exif header
		log.Warn("Non-fatal error reading exif headers: ", err)
		orientation = nil
	}
	return ApplyOrientation(src, orientation)
}

func ApplyOrientation(src image.Image, orientation *ExifOrientation) image.Image {
	if orientation == nil {
		return src
	}

	result := src

	// Rotate first
	switch orientation.RotateDegrees {
	case 90:
		result = imaging.Rotate90(result)
	case 180:
		result = imaging.Rotate180(result)
	case 270:
		result = imaging.Rotate270(result)
	}

	// Flip second
	if orientation.FlipHorizontal {
		result = imaging.FlipH(result)
	}
	if orientation.FlipVertical {
		result = imaging.FlipV(result)
	}

	return result
}
