package config

import (
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch reloads the config whenever the file (or directory) changes and hands the new copy to
// onChange. Reload errors are logged and the previous config stays in effect.
func Watch(configPath string, onChange func(c *MainConfig)) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err = watcher.Add(configPath); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	go func() {
		debounced := debounce.New(1 * time.Second)
		for {
			select {
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				debounced(func() {
					logrus.Info("Config file change detected - reloading")
					c, err := Load(configPath)
					if err != nil {
						logrus.Error("Error reloading configuration - ignoring")
						logrus.Error(err)
						return
					}
					onChange(c)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logrus.Error("error in config watcher: ", err)
			}
		}
	}()

	return watcher, nil
}
