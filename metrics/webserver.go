package metrics

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/t2bot/image-loader/common/config"
)

var srv *http.Server
var srvLock = &sync.Mutex{}

func Init(cfg config.MetricsConfig) {
	srvLock.Lock()
	defer srvLock.Unlock()

	if !cfg.Enabled {
		logrus.Info("Metrics disabled")
		return
	}
	rtr := http.NewServeMux()
	rtr.Handle("/metrics", handler())

	address := cfg.BindAddress + ":" + strconv.Itoa(cfg.Port)
	srv = &http.Server{Addr: address, Handler: rtr}
	go func(s *http.Server) {
		logrus.WithField("address", address).Info("Started metrics listener. Listening at http://" + address)
		if err := s.ListenAndServe(); err != http.ErrServerClosed {
			logrus.Error("Metrics listener failed: ", err)
		}
	}(srv)
}

func Reload(cfg config.MetricsConfig) {
	Stop()
	Init(cfg)
}

func Stop() {
	srvLock.Lock()
	defer srvLock.Unlock()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logrus.Error("Error stopping metrics listener: ", err)
		}
		srv = nil
	}
}
