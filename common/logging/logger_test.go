package logging

import (
	"bytes"
	"os"
	"path"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/t2bot/image-loader/common/config"
)

func resetLogger() {
	logrus.SetLevel(logrus.InfoLevel)
	logrus.SetOutput(os.Stdout)
	logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks))
}

func TestSetupLevel(t *testing.T) {
	defer resetLogger()

	assert.NoError(t, Setup(config.GeneralConfig{LogDirectory: "-", LogLevel: "debug"}))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	assert.NoError(t, Setup(config.GeneralConfig{JsonLogs: true}))
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
	assert.IsType(t, utcFormatter{}, logrus.StandardLogger().Formatter)

	assert.Error(t, Setup(config.GeneralConfig{LogDirectory: "-", LogLevel: "not-a-level"}))
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel(), "a bad level leaves the logger alone")
}

func TestSetupCreatesLogDirectory(t *testing.T) {
	defer resetLogger()

	dir := path.Join(t.TempDir(), "logs")
	require.NoError(t, Setup(config.GeneralConfig{LogDirectory: dir, LogLevel: "info"}))

	st, err := os.Stat(dir)
	assert.NoError(t, err)
	assert.True(t, st.IsDir())
}

func TestSetupReplacesFileHookOnReload(t *testing.T) {
	defer resetLogger()

	cfg := config.GeneralConfig{LogDirectory: t.TempDir(), LogLevel: "info", LogRetentionDays: 3}
	require.NoError(t, Setup(cfg))
	require.NoError(t, Setup(cfg))
	assert.Len(t, logrus.StandardLogger().Hooks[logrus.InfoLevel], 1)

	cfg.LogDirectory = "-"
	require.NoError(t, Setup(cfg))
	assert.Empty(t, logrus.StandardLogger().Hooks[logrus.InfoLevel])
}

func TestUtcFormatter(t *testing.T) {
	f := formatterFor(config.GeneralConfig{JsonLogs: true})
	entry := logrus.NewEntry(logrus.New())
	entry.Message = "hello"
	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"msg":"hello"`)
	assert.Contains(t, string(out), "Z")
}

func TestLibraryLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	l := logrus.New()
	l.SetOutput(buf)
	l.SetLevel(logrus.DebugLevel)

	LibraryLogger{Entry: logrus.NewEntry(l).WithField("queue", "cpu")}.Printf("worker %d exited", 3)
	assert.Contains(t, buf.String(), "worker 3 exited")
	assert.Contains(t, buf.String(), "queue=cpu")
}
