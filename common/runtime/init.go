package runtime

import (
	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"github.com/t2bot/image-loader/common/config"
	"github.com/t2bot/image-loader/common/version"
)

// RunStartupSequence prints the version and prepares error reporting. It returns a flush function
// to defer in main.
func RunStartupSequence(cfg *config.MainConfig) func() {
	version.Print(true)
	return SetupSentry(cfg.Sentry)
}

func SetupSentry(cfg config.SentryConfig) func() {
	if !cfg.Enabled {
		return func() {}
	}

	logrus.Info("Setting up Sentry for debugging...")
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.Dsn,
		Environment: cfg.Environment,
		Debug:       cfg.Debug,
		Release:     version.Version,
	})
	if err != nil {
		logrus.Error("Error setting up sentry: ", err)
		return func() {}
	}
	return func() {
		sentry.Flush(2 * 1000 * 1000 * 1000)
	}
}
