package task_runner

import (
	"github.com/t2bot/image-loader/common/rcontext"
)

func RefreshMetrics(svc Maintainable) func(ctx rcontext.RequestContext) {
	return func(ctx rcontext.RequestContext) {
		svc.RefreshMetrics()
	}
}
