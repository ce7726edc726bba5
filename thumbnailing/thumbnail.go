package thumbnailing

import (
	"context"
	"errors"
	"fmt"
	"image"
	"reflect"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/t2bot/image-loader/common"
	"github.com/t2bot/image-loader/common/config"
	"github.com/t2bot/image-loader/common/rcontext"
	"github.com/t2bot/image-loader/metrics"
	"github.com/t2bot/image-loader/thumbnailing/i"
	"github.com/t2bot/image-loader/thumbnailing/u"
)

var ErrUnsupported = errors.New("unsupported image type")

func IsSupported(contentType string) bool {
	return slices.Contains(i.GetSupportedContentTypes(), contentType)
}

// Decoder turns encoded source bytes into a decoded image no larger than the requested box.
type Decoder struct {
	conf atomic.Pointer[config.ThumbnailsConfig]
}

func NewDecoder(conf config.ThumbnailsConfig) *Decoder {
	d := &Decoder{}
	d.Reconfigure(conf)
	return d
}

func (d *Decoder) Reconfigure(conf config.ThumbnailsConfig) {
	d.conf.Store(&conf)
}

// Decode sniffs the content type of data, decodes it, and downsamples the result to fit
// within width x height physical pixels. Zero dimensions are unconstrained. All failures are
// reported as common.ErrDecode.
func (d *Decoder) Decode(ctx context.Context, data []byte, width int, height int) (image.Image, error) {
	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}
	log := rcontext.Logger(ctx)
	conf := d.conf.Load()

	if len(data) == 0 {
		return nil, common.DecodeError(errors.New("empty image data"))
	}
	if conf.MaxSourceBytes > 0 && int64(len(data)) > conf.MaxSourceBytes {
		log.Debugf("Image too large: %s exceeds %s", humanize.Bytes(uint64(len(data))), humanize.Bytes(uint64(conf.MaxSourceBytes)))
		return nil, common.DecodeError(common.ErrImageTooLarge)
	}

	contentType := mimetype.Detect(data).String()
	if !IsSupported(contentType) || !slices.Contains(conf.Types, contentType) {
		return nil, common.DecodeError(fmt.Errorf("%w: %s", ErrUnsupported, contentType))
	}

	generator := i.GetGenerator(data, contentType)
	if generator == nil {
		return nil, common.DecodeError(fmt.Errorf("%w: %s", ErrUnsupported, contentType))
	}
	log.Debug("Using generator: ", reflect.TypeOf(generator).Name())

	// Check the pixel count before allocating anything for the full image
	dimensional, w, h, err := generator.GetOriginDimensions(data, contentType)
	if err != nil {
		return nil, common.DecodeError(errors.New("error getting dimensions: " + err.Error()))
	}
	if dimensional && conf.MaxPixels > 0 && (w*h) >= conf.MaxPixels {
		log.Debugf("Image too large: %dx%d", w, h)
		return nil, common.DecodeError(common.ErrImageTooLarge)
	}

	start := time.Now()
	img, err := generator.Decode(data, contentType, log)
	if err != nil {
		return nil, common.DecodeError(err)
	}
	img = u.Downsample(img, width, height)
	metrics.DecodeTime.With(prometheus.Labels{"format": strings.TrimPrefix(contentType, "image/")}).Observe(time.Since(start).Seconds())

	return img, nil
}
