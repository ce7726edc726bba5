package config

import (
	"fmt"
	"os"
	"path"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Load reads the config at the given path. When the path is a directory, every file inside is
// applied over top of the defaults in lexical order. A missing path gets a default config written
// to it first.
func Load(configPath string) (*MainConfig, error) {
	c := NewDefaultConfig()

	// Write a default config if the one given doesn't exist
	info, err := os.Stat(configPath)
	if err != nil && os.IsNotExist(err) {
		fmt.Println("Generating new configuration...")
		configBytes, err := yaml.Marshal(c)
		if err != nil {
			return nil, err
		}
		if err = os.WriteFile(configPath, configBytes, 0644); err != nil {
			return nil, errors.Wrap(err, "error writing default config")
		}
		info, err = os.Stat(configPath)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	pathsOrdered := make([]string, 0)
	if info.IsDir() {
		logrus.Info("Config is a directory - loading all files over top of each other")

		files, err := os.ReadDir(configPath)
		if err != nil {
			return nil, err
		}

		for _, f := range files {
			if f.IsDir() {
				continue
			}
			pathsOrdered = append(pathsOrdered, path.Join(configPath, f.Name()))
		}

		sort.Strings(pathsOrdered)
	} else {
		pathsOrdered = append(pathsOrdered, configPath)
	}

	for _, p := range pathsOrdered {
		logrus.Info("Loading config file: ", p)
		buffer, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if err = yaml.Unmarshal(buffer, c); err != nil {
			return nil, errors.Wrap(err, "error parsing "+p)
		}
	}

	return c, nil
}
