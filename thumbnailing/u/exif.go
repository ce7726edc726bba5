package u

import (
	"errors"
	"fmt"

	"github.com/dsoprea/go-exif/v3"
)

type ExifOrientation struct {
	RotateDegrees  int // should be 0, 90, 180, or 270
	FlipVertical   bool
	FlipHorizontal bool
}

func GetExifOrientation(img []byte) (*ExifOrientation, error) {
	rawExif, err := exif.SearchAndExtractExif(img)
	if err != nil {
		if errors.Is(err, exif.ErrNoExif) {
			return nil, nil
		}
		return nil, errors.New("exif: error reading possible exif data: " + err.Error())
	}

	tags, _, err := exif.GetFlatExifData(rawExif, nil)
	if err != nil {
		return nil, errors.New("exif: error parsing exif data: " + err.Error())
	}

	var tag exif.ExifTag
	for _, t := range tags {
		if t.TagName == "Orientation" {
			tag = t
			break
		}
	}
	if tag.TagName != "Orientation" {
		return nil, nil // not found
	}

	var orientation uint16
	vals, ok := tag.Value.([]uint16)
	if !ok || len(vals) == 0 {
		orientation, ok = tag.Value.(uint16)
		if !ok {
			return nil, errors.New("exif: error parsing orientation: not an int")
		}
	} else {
		orientation = vals[0]
	}

	// Some cameras write 0 when they mean "no orientation"
	if orientation == 0 {
		return nil, nil
	}

	return OrientationFromTag(orientation)
}

// OrientationFromTag maps the 1-8 EXIF orientation value onto a rotation and flips.
func OrientationFromTag(orientation uint16) (*ExifOrientation, error) {
	if orientation < 1 || orientation > 8 {
		return nil, fmt.Errorf("orientation out of range: %d", orientation)
	}

	result := &ExifOrientation{
		FlipHorizontal: orientation < 5 && (orientation%2) == 0,
		FlipVertical:   orientation > 4 && (orientation%2) != 0,
	}
	switch orientation {
	case 3, 4:
		result.RotateDegrees = 180
	case 5, 6:
		result.RotateDegrees = 270
	case 7, 8:
		result.RotateDegrees = 90
	}
	return result, nil
}
