package sources

import (
	"context"
	"crypto/md5"
	"image/color"
	"strconv"
	"strings"

	"github.com/cupcake/sigil/gen"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/t2bot/image-loader/common/config"
	"github.com/t2bot/image-loader/thumbnailing/u"
)

const minIdenticonSize = 96
const maxIdenticonSize = 512

// IdenticonResolver renders "identicon:<seed>" or "identicon:<W>x<H>/<seed>" sources to PNG bytes.
type IdenticonResolver struct {
	conf  config.IdenticonConfig
	sigil *gen.Sigil
}

func NewIdenticonResolver(conf config.IdenticonConfig) *IdenticonResolver {
	return &IdenticonResolver{
		conf: conf,
		sigil: &gen.Sigil{
			Rows:       5,
			Background: rgb(224, 224, 224),
			Foreground: []color.NRGBA{
				rgb(45, 79, 255),
				rgb(254, 180, 44),
				rgb(226, 121, 234),
				rgb(30, 179, 253),
				rgb(232, 77, 65),
				rgb(49, 203, 115),
				rgb(141, 69, 170),
			},
		},
	}
}

func (r *IdenticonResolver) Resolve(ctx context.Context, source string) ([]byte, error) {
	seed := payload(source)
	width := r.conf.Size
	height := r.conf.Size
	if w, h, rest, ok := cutSizePrefix(seed); ok {
		width, height, seed = w, h, rest
	}
	if seed == "" {
		return nil, errors.New("identicon seed is empty")
	}

	clamp := func(v int) int {
		if v > maxIdenticonSize {
			return maxIdenticonSize
		}
		if v < minIdenticonSize {
			return minIdenticonSize
		}
		return v
	}
	width = clamp(width)
	height = clamp(height)

	hashed := md5.Sum([]byte(seed))
	img := r.sigil.Make(width, false, hashed[:])
	if width != height {
		img = imaging.Resize(img, width, height, imaging.Lanczos)
	}
	return u.Encode(img, u.PngFormat)
}

// cutSizePrefix splits "<W>x<H>/rest". ok is false when s does not start with a size.
func cutSizePrefix(s string) (int, int, string, bool) {
	size, rest, ok := strings.Cut(s, "/")
	if !ok {
		return 0, 0, s, false
	}
	ws, hs, ok := strings.Cut(size, "x")
	if !ok {
		return 0, 0, s, false
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return 0, 0, s, false
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, s, false
	}
	return w, h, rest, true
}

func rgb(r, g, b uint8) color.NRGBA {
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}
