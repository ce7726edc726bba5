package config

import (
	"os"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadWritesDefaults(t *testing.T) {
	p := path.Join(t.TempDir(), "loader.yaml")

	c, err := Load(p)
	assert.NoError(t, err)
	assert.Equal(t, NewDefaultConfig(), c)

	_, err = os.Stat(p)
	assert.NoError(t, err)
}

func TestLoadOverlaysDirectory(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, os.WriteFile(path.Join(dir, "00-base.yaml"), []byte("workers:\n  numWorkers: 3\n  maxConcurrentLoads: 8\n"), 0644))
	assert.NoError(t, os.WriteFile(path.Join(dir, "10-override.yaml"), []byte("workers:\n  maxConcurrentLoads: 2\ndiskCache:\n  maxAgeDays: 7\n"), 0644))

	c, err := Load(dir)
	assert.NoError(t, err)
	assert.Equal(t, 3, c.Workers.Workers())
	assert.Equal(t, 2, c.Workers.Loads())
	assert.Equal(t, 2, c.Workers.Fetches())
	assert.Equal(t, 7*24*time.Hour, c.DiskCache.MaxAge())
	// untouched sections keep their defaults
	assert.Equal(t, NewDefaultConfig().MemoryCache, c.MemoryCache)
}

func TestLoadRejectsBadYaml(t *testing.T) {
	p := path.Join(t.TempDir(), "loader.yaml")
	assert.NoError(t, os.WriteFile(p, []byte("workers: [nope"), 0644))

	_, err := Load(p)
	assert.Error(t, err)
}

func TestWorkerFallbacks(t *testing.T) {
	w := WorkersConfig{NumWorkers: 2}
	assert.Equal(t, 2, w.Workers())
	assert.Equal(t, 8, w.Loads())
	assert.Equal(t, 8, w.Fetches())
	assert.Equal(t, time.Duration(0), w.Timeout())

	w.TimeoutSeconds = 5
	assert.Equal(t, 5*time.Second, w.Timeout())
}
