package loader

import (
	"context"
	"errors"
	"image"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/t2bot/image-loader/cache_key"
	"github.com/t2bot/image-loader/common"
	"github.com/t2bot/image-loader/common/rcontext"
	"github.com/t2bot/image-loader/memory_cache"
	"github.com/t2bot/image-loader/pool"
	"github.com/t2bot/image-loader/scheduler"
	"github.com/t2bot/image-loader/transforms"
)

var errNoImage = errors.New("no image was produced")

// decoded is the shared result of a job. Each task acquires its own memory handle for it.
type decoded struct {
	img  image.Image
	size int64
}

// jobFor builds the work for the job that t starts. Tasks joining the job later reuse it.
func (s *Service) jobFor(t *Task) scheduler.WorkFunc[*decoded] {
	req := t.req
	key := t.key
	return func(ctx context.Context) (*decoded, error) {
		rctx := rcontext.ForTask(ctx, s.conf.Load(), t.id).LogWithFields(logrus.Fields{
			"key":    key.String(),
			"source": req.Source,
		})
		return s.runPipeline(rctx, key, req)
	}
}

// checkpoint stops the pipeline once nobody wants the result.
func checkpoint(ctx context.Context) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return nil
}

func (s *Service) runPipeline(ctx rcontext.RequestContext, key cache_key.Key, req Request) (*decoded, error) {
	// Another job may have filled the memory cache while this one was queued
	if mh, ok := s.memory.Get(key); ok {
		defer mh.Release()
		return &decoded{img: mh.Image(), size: mh.Size()}, nil
	}

	width, height := req.PixelSize()
	skipBytes := false
	for {
		data, fromBytes, err := s.fetch(ctx, key, req, skipBytes)
		if err != nil {
			return nil, err
		}

		img, err := s.decode(ctx, data, width, height)
		if err != nil {
			if fromBytes && errors.Is(err, common.ErrDecode) {
				// the stored copy is bad; drop it and go back to the source once
				ctx.Log.Warn("Cached bytes failed to decode, refetching: ", err)
				if derr := s.bytes.Delete(ctx, key); derr != nil {
					ctx.Log.Warn("Non-fatal error removing cached bytes: ", derr)
				}
				skipBytes = true
				continue
			}
			return nil, err
		}

		img, err = s.transform(ctx, img, req.Transforms)
		if err != nil {
			return nil, err
		}

		res := &decoded{img: img, size: memory_cache.EstimateSize(img)}
		s.memory.Put(key, res.img, res.size)
		ctx.Log.Debugf("Loaded %dx%d image (%s)", img.Bounds().Dx(), img.Bounds().Dy(), humanize.Bytes(uint64(res.size)))
		return res, nil
	}
}

// fetch returns the source bytes, from the byte tier when possible. The bool is true when the
// bytes came from the byte tier.
func (s *Service) fetch(ctx rcontext.RequestContext, key cache_key.Key, req Request, skipBytes bool) ([]byte, bool, error) {
	if s.bytes != nil && !skipBytes {
		data, ok, err := s.bytes.Read(ctx, key)
		if err != nil {
			if cerr := checkpoint(ctx); cerr != nil {
				return nil, false, cerr
			}
			ctx.Log.Warn("Non-fatal error reading cached bytes: ", err)
		} else if ok {
			ctx.Log.Debug("Byte cache hit")
			return data, true, nil
		}
	}

	failureKey := cache_key.NormalizeSource(req.Source)
	if err := s.failures.Get(failureKey); err != nil {
		ctx.Log.Debug("Source failed recently, not retrying yet")
		return nil, false, err
	}

	limiter := s.fetches.Load()
	if err := limiter.sem.Acquire(ctx, 1); err != nil {
		return nil, false, context.Cause(ctx)
	}
	data, err := s.sources.Resolve(ctx, req.Source)
	limiter.sem.Release(1)
	if err != nil {
		if errors.Is(err, common.ErrSourceUnavailable) {
			s.failures.Set(failureKey, err)
		}
		return nil, false, err
	}
	if err := checkpoint(ctx); err != nil {
		return nil, false, err
	}

	if s.bytes != nil {
		if err := s.bytes.Write(ctx, key, data); err != nil {
			// the image can still be shown, it just won't survive a restart
			ctx.Log.Warn("Non-fatal error writing cached bytes: ", err)
		}
	}
	return data, false, nil
}

func (s *Service) decode(ctx rcontext.RequestContext, data []byte, width int, height int) (image.Image, error) {
	var img image.Image
	var err error
	perr := s.cpu.Do(ctx, func() {
		img, err = s.decoder.Decode(ctx, data, width, height)
	})
	return settle(ctx, img, err, perr)
}

func (s *Service) transform(ctx rcontext.RequestContext, img image.Image, ts []transforms.Transformation) (image.Image, error) {
	if len(ts) == 0 {
		return img, nil
	}
	var out image.Image
	var err error
	perr := s.cpu.Do(ctx, func() {
		out, err = transforms.Apply(ctx, img, ts)
	})
	return settle(ctx, out, err, perr)
}

// settle classifies the outcome of work run on the cpu queue. A panic or a missing image counts as
// a decode failure.
func settle(ctx context.Context, img image.Image, err error, queueErr error) (image.Image, error) {
	if cerr := checkpoint(ctx); cerr != nil {
		return nil, cerr
	}
	if queueErr != nil {
		if errors.Is(queueErr, pool.ErrPanic) {
			return nil, common.DecodeError(queueErr)
		}
		return nil, queueErr
	}
	if err != nil {
		return nil, common.DecodeError(err)
	}
	if img == nil {
		return nil, common.DecodeError(errNoImage)
	}
	return img, nil
}
