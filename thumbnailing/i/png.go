package i

import (
	"bytes"
	"errors"
	"image"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

type pngGenerator struct {
}

func (d pngGenerator) supportedContentTypes() []string {
	return []string{"image/png"}
}

func (d pngGenerator) matches(img []byte, contentType string) bool {
	return contentType == "image/png"
}

func (d pngGenerator) GetOriginDimensions(b []byte, contentType string) (bool, int, int, error) {
	i, _, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return false, 0, 0, err
	}
	return true, i.Width, i.Height, nil
}

func (d pngGenerator) Decode(b []byte, contentType string, log *logrus.Entry) (image.Image, error) {
	src, err := imaging.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, errors.New("png: error decoding: " + err.Error())
	}
	return src, nil
}

func init() {
	generators = append(generators, pngGenerator{})
}
