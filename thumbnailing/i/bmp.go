package i

import (
	"bytes"
	"errors"
	"image"
	"slices"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/bmp"
)

type bmpGenerator struct {
}

func (d bmpGenerator) supportedContentTypes() []string {
	return []string{"image/bmp", "image/x-bmp"}
}

func (d bmpGenerator) matches(img []byte, contentType string) bool {
	return slices.Contains(d.supportedContentTypes(), contentType)
}

func (d bmpGenerator) GetOriginDimensions(b []byte, contentType string) (bool, int, int, error) {
	i, err := bmp.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return false, 0, 0, err
	}
	return true, i.Width, i.Height, nil
}

func (d bmpGenerator) Decode(b []byte, contentType string, log *logrus.Entry) (image.Image, error) {
	src, err := bmp.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, errors.New("bmp: error decoding: " + err.Error())
	}
	return src, nil
}

func init() {
	generators = append(generators, bmpGenerator{})
}
