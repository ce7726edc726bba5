package i

import (
	"bytes"
	"errors"
	"image"
	"image/draw"
	"image/gif"

	"github.com/sirupsen/logrus"
)

type gifGenerator struct {
}

func (d gifGenerator) supportedContentTypes() []string {
	return []string{"image/gif"}
}

func (d gifGenerator) matches(img []byte, contentType string) bool {
	return contentType == "image/gif"
}

func (d gifGenerator) GetOriginDimensions(b []byte, contentType string) (bool, int, int, error) {
	return pngGenerator{}.GetOriginDimensions(b, contentType)
}

// Decode returns the first frame composited onto the logical screen.
func (d gifGenerator) Decode(b []byte, contentType string, log *logrus.Entry) (image.Image, error) {
	g, err := gif.DecodeAll(bytes.NewReader(b))
	if err != nil {
		return nil, errors.New("gif: error decoding image: " + err.Error())
	}
	if len(g.Image) == 0 {
		return nil, errors.New("gif: no frames")
	}

	width := g.Config.Width
	height := g.Config.Height
	if width <= 0 || height <= 0 {
		width = g.Image[0].Bounds().Max.X
		height = g.Image[0].Bounds().Max.Y
	}
	if len(g.Image) > 1 {
		log.Debugf("Using first of %d gif frames", len(g.Image))
	}

	frameImg := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(frameImg, frameImg.Bounds(), g.Image[0], image.Point{X: 0, Y: 0}, draw.Over)
	return frameImg, nil
}

func init() {
	generators = append(generators, gifGenerator{})
}
