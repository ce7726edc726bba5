package main

import (
	"fmt"
	"image"
	"os"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/t2bot/image-loader/bindings"
	"github.com/t2bot/image-loader/thumbnailing/u"
	"github.com/t2bot/image-loader/transforms"
)

type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

func parseTransforms(values []string) ([]transforms.Transformation, error) {
	ts := make([]transforms.Transformation, 0, len(values))
	for _, v := range values {
		t, err := transforms.Parse(v)
		if err != nil {
			return nil, err
		}
		ts = append(ts, t)
	}
	return ts, nil
}

// fileTarget writes whatever it is shown to a PNG file.
type fileTarget struct {
	file   string
	handle *bindings.Handle
	log    *logrus.Entry
}

func newFileTarget(dir string, index int, source string) *fileTarget {
	return &fileTarget{
		file: path.Join(dir, fmt.Sprintf("%03d.png", index)),
		log:  logrus.WithFields(logrus.Fields{"target": index, "source": source}),
	}
}

func (t *fileTarget) SetImage(img image.Image) {
	b, err := u.Encode(img, u.PngFormat)
	if err != nil {
		t.log.Error("Error encoding image: ", err)
		return
	}
	if err = os.WriteFile(t.file, b, 0644); err != nil {
		t.log.Error("Error writing image: ", err)
		return
	}
	t.log.Infof("Wrote %dx%d image to %s (%s)", img.Bounds().Dx(), img.Bounds().Dy(), t.file, humanize.Bytes(uint64(len(b))))
}

func (t *fileTarget) SetError(err error) {
	t.log.Warn("Showing error: ", err)
}
