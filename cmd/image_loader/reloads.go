package main

import (
	"github.com/sirupsen/logrus"
	"github.com/t2bot/image-loader/common/config"
	"github.com/t2bot/image-loader/common/logging"
	"github.com/t2bot/image-loader/loader"
	"github.com/t2bot/image-loader/metrics"
	"github.com/t2bot/image-loader/tasks"
)

func applyConfig(svc *loader.Service, cfg *config.MainConfig) {
	old := svc.Config()

	if old.General != cfg.General {
		logrus.Info("Reloading logging config")
		if err := logging.Setup(cfg.General); err != nil {
			logrus.Error("Error reloading logging config: ", err)
		}
	}
	if old.Metrics != cfg.Metrics {
		logrus.Info("Reloading metrics listener")
		metrics.Reload(cfg.Metrics)
	}
	if old.Sources.Http.TimeoutSeconds != cfg.Sources.Http.TimeoutSeconds || old.Sentry != cfg.Sentry {
		logrus.Warn("Source and Sentry changes take effect after a restart")
	}

	svc.Reconfigure(cfg)
	tasks.StartAll(cfg, svc)
}
