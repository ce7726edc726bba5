package sources

import (
	"context"
	"strconv"
	"strings"

	"github.com/buckket/go-blurhash"
	"github.com/pkg/errors"
	"github.com/t2bot/image-loader/common/config"
	"github.com/t2bot/image-loader/thumbnailing/u"
)

// BlurhashResolver renders "blurhash:<hash>" or "blurhash:<W>x<H>/<hash>" sources to PNG bytes.
type BlurhashResolver struct {
	conf config.BlurhashConfig
}

func NewBlurhashResolver(conf config.BlurhashConfig) *BlurhashResolver {
	return &BlurhashResolver{conf: conf}
}

func (r *BlurhashResolver) Resolve(ctx context.Context, source string) ([]byte, error) {
	hash := payload(source)
	width := r.conf.Width
	height := r.conf.Height

	// '/' is not part of the blurhash alphabet
	if size, rest, ok := strings.Cut(hash, "/"); ok {
		ws, hs, ok := strings.Cut(size, "x")
		if !ok {
			return nil, errors.Errorf("invalid blurhash size %q", size)
		}
		var err error
		if width, err = strconv.Atoi(ws); err != nil {
			return nil, errors.Wrap(err, "invalid blurhash width")
		}
		if height, err = strconv.Atoi(hs); err != nil {
			return nil, errors.Wrap(err, "invalid blurhash height")
		}
		hash = rest
	}
	if width <= 0 || height <= 0 {
		return nil, errors.New("blurhash render size must be positive")
	}

	punch := r.conf.Punch
	if punch <= 0 {
		punch = 1
	}
	img, err := blurhash.Decode(hash, width, height, punch)
	if err != nil {
		return nil, errors.Wrap(err, "error rendering blurhash")
	}
	return u.Encode(img, u.PngFormat)
}
