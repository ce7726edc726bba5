package i

import (
	"bytes"
	"errors"
	"image"

	"github.com/sirupsen/logrus"
	"github.com/t2bot/image-loader/thumbnailing/u"
	"golang.org/x/image/tiff"
)

type tiffGenerator struct {
}

func (d tiffGenerator) supportedContentTypes() []string {
	return []string{"image/tiff"}
}

func (d tiffGenerator) matches(img []byte, contentType string) bool {
	return contentType == "image/tiff"
}

func (d tiffGenerator) GetOriginDimensions(b []byte, contentType string) (bool, int, int, error) {
	i, err := tiff.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return false, 0, 0, err
	}
	return true, i.Width, i.Height, nil
}

func (d tiffGenerator) Decode(b []byte, contentType string, log *logrus.Entry) (image.Image, error) {
	src, err := tiff.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, errors.New("tiff: error decoding: " + err.Error())
	}
	return u.IdentifyAndApplyOrientation(b, src, log), nil
}

func init() {
	generators = append(generators, tiffGenerator{})
}
