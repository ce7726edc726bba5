package task_runner

import (
	"context"
)

// Maintainable is the part of the loader the recurring tasks look after.
type Maintainable interface {
	EvictExpired(ctx context.Context) (int, error)
	RefreshMetrics()
}
