package logging

import (
	"os"
	"path"
	"time"

	"github.com/lestrrat/go-file-rotatelogs"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/t2bot/image-loader/common/config"
)

const timestampFormat = "2006-01-02 15:04:05.000 Z07:00"
const logFileName = "image_loader.log"

type utcFormatter struct {
	logrus.Formatter
}

func (f utcFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	entry.Time = entry.Time.UTC()
	return f.Formatter.Format(entry)
}

func formatterFor(cfg config.GeneralConfig) logrus.Formatter {
	if cfg.JsonLogs {
		return utcFormatter{&logrus.JSONFormatter{TimestampFormat: timestampFormat}}
	}
	return utcFormatter{&logrus.TextFormatter{
		TimestampFormat:  timestampFormat,
		FullTimestamp:    true,
		ForceColors:      cfg.LogColors,
		DisableColors:    !cfg.LogColors,
		QuoteEmptyFields: true,
	}}
}

// fileHook mirrors every level into a daily rotated file under dir.
func fileHook(dir string, retention time.Duration, formatter logrus.Formatter) (logrus.Hook, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, err
	}
	logFile := path.Join(dir, logFileName)
	writer, err := rotatelogs.New(
		logFile+".%Y%m%d%H%M",
		rotatelogs.WithLinkName(logFile),
		rotatelogs.WithMaxAge(retention),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		return nil, err
	}
	writers := make(lfshook.WriterMap, len(logrus.AllLevels))
	for _, lvl := range logrus.AllLevels {
		writers[lvl] = writer
	}
	return lfshook.NewHook(writers, formatter), nil
}

// Setup (re)configures the standard logrus logger from cfg. It can be called again on config
// reload: the file hook from the previous call is replaced, not duplicated. A LogDirectory of ""
// or "-" keeps output on stdout only.
func Setup(cfg config.GeneralConfig) error {
	level := cfg.LogLevel
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}

	formatter := formatterFor(cfg)
	hooks := make(logrus.LevelHooks)
	if cfg.LogDirectory != "" && cfg.LogDirectory != "-" {
		retention := time.Duration(cfg.LogRetentionDays) * 24 * time.Hour
		if retention <= 0 {
			retention = 14 * 24 * time.Hour
		}
		hook, err := fileHook(cfg.LogDirectory, retention, formatter)
		if err != nil {
			return err
		}
		hooks.Add(hook)
	}

	logrus.SetLevel(lvl)
	logrus.SetFormatter(formatter)
	logrus.SetOutput(os.Stdout)
	logrus.StandardLogger().ReplaceHooks(hooks)
	return nil
}

// LibraryLogger hands printf-style logging from libraries (the worker pools) to logrus at debug
// level.
type LibraryLogger struct {
	Entry *logrus.Entry
}

func (l LibraryLogger) Printf(format string, v ...interface{}) {
	if l.Entry == nil {
		logrus.Debugf(format, v...)
		return
	}
	l.Entry.Debugf(format, v...)
}
