package i

import (
	"bytes"
	"errors"
	"image"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/webp"
)

type webpGenerator struct {
}

func (d webpGenerator) supportedContentTypes() []string {
	return []string{"image/webp"}
}

func (d webpGenerator) matches(img []byte, contentType string) bool {
	return contentType == "image/webp"
}

func (d webpGenerator) GetOriginDimensions(b []byte, contentType string) (bool, int, int, error) {
	i, err := webp.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return false, 0, 0, err
	}
	return true, i.Width, i.Height, nil
}

func (d webpGenerator) Decode(b []byte, contentType string, log *logrus.Entry) (image.Image, error) {
	src, err := webp.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, errors.New("webp: error decoding: " + err.Error())
	}
	return src, nil
}

func init() {
	generators = append(generators, webpGenerator{})
}
