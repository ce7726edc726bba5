package rcontext

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/t2bot/image-loader/common"
	"github.com/t2bot/image-loader/common/config"
)

func TestForTaskPopulatesValues(t *testing.T) {
	cfg := config.NewDefaultConfig()
	ctx := ForTask(context.Background(), cfg, "abc")

	assert.Equal(t, "abc", ctx.Value(common.ContextTaskId))
	assert.Same(t, cfg, ctx.Value(common.ContextConfig))
	assert.Same(t, ctx.Log, Logger(ctx))
	assert.Equal(t, "abc", ctx.Log.Data["task"])
}

func TestLogWithFieldsKeepsConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	ctx := Initial(cfg).LogWithFields(logrus.Fields{"key": "k1"})

	assert.Same(t, cfg, ctx.Config)
	assert.Equal(t, "k1", Logger(ctx).Data["key"])
}

func TestWithContextCarriesCancellation(t *testing.T) {
	cfg := config.NewDefaultConfig()
	parent, cancel := context.WithCancel(context.Background())
	ctx := Initial(cfg).WithContext(parent)
	cancel()

	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Same(t, cfg, ctx.Config)
}

func TestLoggerFallback(t *testing.T) {
	assert.NotNil(t, Logger(context.Background()))
}
