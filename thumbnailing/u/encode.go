package u

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
)

type EncodeFormat int

const (
	PngFormat  EncodeFormat = 0
	JpegFormat EncodeFormat = 1
)

// Encode renders img for storage in the byte caches. PNG is used unless asked otherwise.
func Encode(img image.Image, format EncodeFormat) ([]byte, error) {
	buf := &bytes.Buffer{}
	var err error
	if format == JpegFormat {
		err = imaging.Encode(buf, img, imaging.JPEG)
	} else {
		err = imaging.Encode(buf, img, imaging.PNG)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
