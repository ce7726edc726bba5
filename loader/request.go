package loader

import (
	"time"

	"github.com/t2bot/image-loader/cache_key"
	"github.com/t2bot/image-loader/transforms"
	"github.com/t2bot/image-loader/util"
)

// Listener hears how a task ended. It runs on the dispatcher. err is nil on success; cancelled
// tasks are never reported.
type Listener func(t *Task, err error)

// Request describes one image to load.
type Request struct {
	Source     string
	Transforms []transforms.Transformation

	// Width and Height are the target size in device-independent units. Zero leaves that
	// dimension unconstrained.
	Width  int
	Height int

	// Scale converts Width and Height to physical pixels. Zero or less means 1.
	Scale float64

	// Timeout overrides the configured per-task timeout when positive.
	Timeout time.Duration

	Listener Listener
}

func (r Request) Key() cache_key.Key {
	return cache_key.Derive(r.Source, transforms.Keys(r.Transforms), r.Width, r.Height, r.Scale)
}

// PixelSize is the decode target in physical pixels.
func (r Request) PixelSize() (int, int) {
	return util.DpToPixels(float64(r.Width), r.Scale), util.DpToPixels(float64(r.Height), r.Scale)
}
