package sources

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/t2bot/image-loader/common"
	"github.com/t2bot/image-loader/common/config"
	"github.com/t2bot/image-loader/metrics"
)

// Resolver fetches the raw bytes behind a source string. Failures should wrap
// common.ErrSourceUnavailable; a cancelled ctx returns its cause.
type Resolver interface {
	Resolve(ctx context.Context, source string) ([]byte, error)
}

// Factory routes a source to the Resolver registered for its scheme.
type Factory struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
	log       *logrus.Entry
}

func NewFactory(conf config.SourcesConfig, log *logrus.Entry) (*Factory, error) {
	f := &Factory{
		resolvers: make(map[string]Resolver),
		log:       log,
	}

	h := NewHttpResolver(conf.Http, log.WithField("resolver", "http"))
	f.Register("http", h)
	f.Register("https", h)
	f.Register("data", NewDataResolver(conf.Http.MaxBytes))
	f.Register("blurhash", NewBlurhashResolver(conf.Blurhash))
	if conf.Identicons.Enabled {
		f.Register("identicon", NewIdenticonResolver(conf.Identicons))
	}

	if conf.File.Enabled {
		f.Register("file", NewFileResolver(conf.File.RootPath, conf.Http.MaxBytes))
	}
	if conf.S3.Enabled {
		s3r, err := NewS3Resolver(conf.S3, conf.Http.MaxBytes)
		if err != nil {
			return nil, errors.Wrap(err, "error setting up s3 source")
		}
		f.Register("s3", s3r)
	}

	return f, nil
}

// Register replaces any resolver already bound to scheme.
func (f *Factory) Register(scheme string, r Resolver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolvers[strings.ToLower(scheme)] = r
}

func (f *Factory) Schemes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	schemes := make([]string, 0, len(f.resolvers))
	for s := range f.resolvers {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

func (f *Factory) Resolve(ctx context.Context, source string) ([]byte, error) {
	scheme := SchemeOf(source)

	f.mu.RLock()
	r, ok := f.resolvers[scheme]
	f.mu.RUnlock()
	if !ok {
		metrics.SourceFetches.With(prometheus.Labels{"scheme": scheme, "outcome": "unsupported"}).Inc()
		return nil, common.SourceUnavailable(errors.Wrapf(common.ErrUnsupportedSource, "scheme %q", scheme))
	}

	b, err := r.Resolve(ctx, source)
	if err != nil {
		if ctx.Err() != nil {
			metrics.SourceFetches.With(prometheus.Labels{"scheme": scheme, "outcome": "cancelled"}).Inc()
			return nil, context.Cause(ctx)
		}
		metrics.SourceFetches.With(prometheus.Labels{"scheme": scheme, "outcome": "error"}).Inc()
		return nil, common.SourceUnavailable(err)
	}
	metrics.SourceFetches.With(prometheus.Labels{"scheme": scheme, "outcome": "ok"}).Inc()
	return b, nil
}

// SchemeOf returns the lowercased scheme of source. Bare absolute paths are treated as file sources.
func SchemeOf(source string) string {
	source = strings.TrimSpace(source)
	if strings.HasPrefix(source, "/") {
		return "file"
	}
	scheme, _, ok := strings.Cut(source, ":")
	if !ok {
		return ""
	}
	return strings.ToLower(scheme)
}

// payload strips the "scheme:" prefix from source.
func payload(source string) string {
	source = strings.TrimSpace(source)
	_, rest, ok := strings.Cut(source, ":")
	if !ok {
		return source
	}
	return rest
}
