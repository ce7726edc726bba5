package rcontext

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/t2bot/image-loader/common"
	"github.com/t2bot/image-loader/common/config"
)

// Initial builds a root context for work which is not tied to a single load, such as startup or
// background eviction.
func Initial(cfg *config.MainConfig) RequestContext {
	return RequestContext{
		Context: context.Background(),
		Log:     logrus.WithFields(logrus.Fields{"nocontext": true}),
		Config:  cfg,
	}.populate()
}

// ForTask wraps a parent context for a single load task.
func ForTask(parent context.Context, cfg *config.MainConfig, taskId string) RequestContext {
	return RequestContext{
		Context: parent,
		Log:     logrus.WithFields(logrus.Fields{"task": taskId}),
		Config:  cfg,
		TaskId:  taskId,
	}.populate()
}

type RequestContext struct {
	context.Context

	// These are also stored on the context object itself
	Log    *logrus.Entry      // il.logger
	Config *config.MainConfig // il.config
	TaskId string             // il.task_id
}

func (c RequestContext) populate() RequestContext {
	c.Context = context.WithValue(c.Context, common.ContextLogger, c.Log)
	c.Context = context.WithValue(c.Context, common.ContextConfig, c.Config)
	c.Context = context.WithValue(c.Context, common.ContextTaskId, c.TaskId)
	return c
}

// WithContext swaps the underlying context (usually for one with a deadline or cancellation)
// while keeping the logger and config.
func (c RequestContext) WithContext(ctx context.Context) RequestContext {
	return RequestContext{
		Context: ctx,
		Log:     c.Log,
		Config:  c.Config,
		TaskId:  c.TaskId,
	}.populate()
}

func (c RequestContext) ReplaceLogger(log *logrus.Entry) RequestContext {
	ctx := context.WithValue(c.Context, common.ContextLogger, log)
	return RequestContext{
		Context: ctx,
		Log:     log,
		Config:  c.Config,
		TaskId:  c.TaskId,
	}
}

func (c RequestContext) LogWithFields(fields logrus.Fields) RequestContext {
	return c.ReplaceLogger(c.Log.WithFields(fields))
}

// Logger pulls the logger back out of a plain context, falling back to the standard logger.
func Logger(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		if log, ok := ctx.Value(common.ContextLogger).(*logrus.Entry); ok && log != nil {
			return log
		}
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
