package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlerRunsBeforeHooks(t *testing.T) {
	called := 0
	OnBeforeMetricsRequested(func() {
		called++
		BoundTargets.Set(3)
	})

	rec := httptest.NewRecorder()
	handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 1, called)
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "image_loader_bound_targets 3"))
}
