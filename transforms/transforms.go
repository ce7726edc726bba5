package transforms

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/pkg/errors"
)

// Transformation is one post-decode step. Key must be stable because it is part of the cache key.
type Transformation interface {
	Key() string
	Transform(img image.Image) (image.Image, error)
}

// Keys returns the cache key fragments for ts, in order.
func Keys(ts []Transformation) []string {
	keys := make([]string, 0, len(ts))
	for _, t := range ts {
		keys = append(keys, t.Key())
	}
	return keys
}

// Apply runs ts in order, stopping early if ctx is done between steps.
func Apply(ctx context.Context, img image.Image, ts []Transformation) (image.Image, error) {
	var err error
	for _, t := range ts {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		img, err = t.Transform(img)
		if err != nil {
			return nil, errors.Wrap(err, "transform "+t.Key())
		}
	}
	return img, nil
}

type Resize struct {
	Width  int
	Height int
}

func (t Resize) Key() string {
	return fmt.Sprintf("resize:%dx%d", t.Width, t.Height)
}

func (t Resize) Transform(img image.Image) (image.Image, error) {
	if t.Width <= 0 && t.Height <= 0 {
		return nil, errors.New("resize needs a width or a height")
	}
	return imaging.Resize(img, t.Width, t.Height, imaging.Lanczos), nil
}

// Fill scales and center-crops to exactly Width x Height.
type Fill struct {
	Width  int
	Height int
}

func (t Fill) Key() string {
	return fmt.Sprintf("fill:%dx%d", t.Width, t.Height)
}

func (t Fill) Transform(img image.Image) (image.Image, error) {
	if t.Width <= 0 || t.Height <= 0 {
		return nil, errors.New("fill needs a width and a height")
	}
	return imaging.Fill(img, t.Width, t.Height, imaging.Center, imaging.Lanczos), nil
}

type Crop struct {
	Rect image.Rectangle
}

func (t Crop) Key() string {
	return fmt.Sprintf("crop:%d,%d,%d,%d", t.Rect.Min.X, t.Rect.Min.Y, t.Rect.Max.X, t.Rect.Max.Y)
}

func (t Crop) Transform(img image.Image) (image.Image, error) {
	r := t.Rect.Add(img.Bounds().Min).Intersect(img.Bounds())
	if r.Empty() {
		return nil, errors.New("crop rectangle is outside the image")
	}
	return imaging.Crop(img, r), nil
}

type Blur struct {
	Sigma float64
}

func (t Blur) Key() string {
	return "blur:" + strconv.FormatFloat(t.Sigma, 'g', -1, 64)
}

func (t Blur) Transform(img image.Image) (image.Image, error) {
	return imaging.Blur(img, t.Sigma), nil
}

type Grayscale struct{}

func (t Grayscale) Key() string {
	return "grayscale"
}

func (t Grayscale) Transform(img image.Image) (image.Image, error) {
	return imaging.Grayscale(img), nil
}

// Rotate turns the image counter-clockwise by Degrees. Non-right angles leave transparent corners.
type Rotate struct {
	Degrees float64
}

func (t Rotate) Key() string {
	return "rotate:" + strconv.FormatFloat(t.Degrees, 'g', -1, 64)
}

func (t Rotate) Transform(img image.Image) (image.Image, error) {
	switch t.Degrees {
	case 0, 360:
		return img, nil
	case 90:
		return imaging.Rotate90(img), nil
	case 180:
		return imaging.Rotate180(img), nil
	case 270:
		return imaging.Rotate270(img), nil
	}
	return imaging.Rotate(img, t.Degrees, color.Transparent), nil
}

type FlipH struct{}

func (t FlipH) Key() string {
	return "fliph"
}

func (t FlipH) Transform(img image.Image) (image.Image, error) {
	return imaging.FlipH(img), nil
}

type FlipV struct{}

func (t FlipV) Key() string {
	return "flipv"
}

func (t FlipV) Transform(img image.Image) (image.Image, error) {
	return imaging.FlipV(img), nil
}

// Circle crops to the largest centered square and masks everything outside the inscribed circle.
type Circle struct{}

func (t Circle) Key() string {
	return "circle"
}

func (t Circle) Transform(img image.Image) (image.Image, error) {
	b := img.Bounds()
	side := min(b.Dx(), b.Dy())
	if side <= 0 {
		return nil, errors.New("cannot circle an empty image")
	}
	square := imaging.Fill(img, side, side, imaging.Center, imaging.Lanczos)

	dc := gg.NewContext(side, side)
	r := float64(side) / 2
	dc.DrawCircle(r, r, r)
	dc.Clip()
	dc.DrawImage(square, 0, 0)
	return dc.Image(), nil
}

type RoundedCorners struct {
	Radius float64
}

func (t RoundedCorners) Key() string {
	return "rounded:" + strconv.FormatFloat(t.Radius, 'g', -1, 64)
}

func (t RoundedCorners) Transform(img image.Image) (image.Image, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, errors.New("cannot round an empty image")
	}
	w := float64(b.Dx())
	h := float64(b.Dy())

	dc := gg.NewContext(b.Dx(), b.Dy())
	dc.DrawRoundedRectangle(0, 0, w, h, min(t.Radius, w/2, h/2))
	dc.Clip()
	dc.DrawImage(img, -b.Min.X, -b.Min.Y)
	return dc.Image(), nil
}

// Parse reads the textual form produced by Key back into a Transformation.
func Parse(s string) (Transformation, error) {
	name, arg, _ := strings.Cut(strings.TrimSpace(s), ":")
	switch strings.ToLower(name) {
	case "resize":
		w, h, err := parseSize(arg)
		if err != nil {
			return nil, errors.Wrap(err, "resize")
		}
		return Resize{Width: w, Height: h}, nil
	case "fill":
		w, h, err := parseSize(arg)
		if err != nil {
			return nil, errors.Wrap(err, "fill")
		}
		return Fill{Width: w, Height: h}, nil
	case "crop":
		parts := strings.Split(arg, ",")
		if len(parts) != 4 {
			return nil, errors.New("crop expects x0,y0,x1,y1")
		}
		v := make([]int, 4)
		for i, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return nil, errors.Wrap(err, "crop")
			}
			v[i] = n
		}
		return Crop{Rect: image.Rect(v[0], v[1], v[2], v[3])}, nil
	case "blur":
		f, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, errors.Wrap(err, "blur")
		}
		return Blur{Sigma: f}, nil
	case "grayscale":
		return Grayscale{}, nil
	case "rotate":
		f, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, errors.Wrap(err, "rotate")
		}
		return Rotate{Degrees: f}, nil
	case "fliph":
		return FlipH{}, nil
	case "flipv":
		return FlipV{}, nil
	case "circle":
		return Circle{}, nil
	case "rounded":
		f, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, errors.Wrap(err, "rounded")
		}
		return RoundedCorners{Radius: f}, nil
	}
	return nil, errors.New("unknown transformation: " + s)
}

func parseSize(arg string) (int, int, error) {
	ws, hs, ok := strings.Cut(arg, "x")
	if !ok {
		return 0, 0, errors.New("size must look like WIDTHxHEIGHT")
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return 0, 0, errors.Wrap(err, "width")
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, errors.Wrap(err, "height")
	}
	return w, h, nil
}
