package i

import (
	"image"

	"github.com/sirupsen/logrus"
)

type Generator interface {
	supportedContentTypes() []string
	matches(img []byte, contentType string) bool
	GetOriginDimensions(b []byte, contentType string) (bool, int, int, error)
	Decode(b []byte, contentType string, log *logrus.Entry) (image.Image, error)
}

var generators = make([]Generator, 0)

func GetGenerator(img []byte, contentType string) Generator {
	for _, g := range generators {
		if g.matches(img, contentType) {
			return g
		}
	}
	return nil
}

func GetSupportedContentTypes() []string {
	a := make([]string, 0)
	for _, d := range generators {
		a = append(a, d.supportedContentTypes()...)
	}
	return a
}
