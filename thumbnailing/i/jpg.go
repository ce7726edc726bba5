package i

import (
	"bytes"
	"errors"
	"image"
	_ "image/jpeg"
	"slices"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"github.com/t2bot/image-loader/thumbnailing/u"
)

type jpgGenerator struct {
}

func (d jpgGenerator) supportedContentTypes() []string {
	return []string{"image/jpeg", "image/jpg"}
}

func (d jpgGenerator) matches(img []byte, contentType string) bool {
	return slices.Contains(d.supportedContentTypes(), contentType)
}

func (d jpgGenerator) GetOriginDimensions(b []byte, contentType string) (bool, int, int, error) {
	return pngGenerator{}.GetOriginDimensions(b, contentType)
}

func (d jpgGenerator) Decode(b []byte, contentType string, log *logrus.Entry) (image.Image, error) {
	src, err := imaging.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, errors.New("jpg: error decoding: " + err.Error())
	}

	return u.IdentifyAndApplyOrientation(b, src, log), nil
}

func init() {
	generators = append(generators, jpgGenerator{})
}
