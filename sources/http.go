package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/rubyist/circuitbreaker"
	"github.com/ryanuber/go-glob"
	"github.com/sirupsen/logrus"
	"github.com/t2bot/image-loader/common/config"
	"github.com/t2bot/image-loader/common/version"
	"github.com/t2bot/image-loader/util/readers"
)

var ErrHostNotAllowed = errors.New("host is not in the allowed hosts list")

type HttpResolver struct {
	client   *http.Client
	conf     config.HttpSourceConfig
	breakers *sync.Map
	log      *logrus.Entry
}

func NewHttpResolver(conf config.HttpSourceConfig, log *logrus.Entry) *HttpResolver {
	return &HttpResolver{
		client: &http.Client{
			Timeout: time.Duration(conf.TimeoutSeconds) * time.Second,
		},
		conf:     conf,
		breakers: &sync.Map{},
		log:      log,
	}
}

func (r *HttpResolver) getBreaker(host string) *circuit.Breaker {
	cbRaw, hasCb := r.breakers.Load(host)
	if hasCb {
		return cbRaw.(*circuit.Breaker)
	}

	backoffAt := int64(r.conf.BackoffAt)
	if backoffAt <= 0 {
		backoffAt = 10
	}
	cbRaw, _ = r.breakers.LoadOrStore(host, circuit.NewConsecutiveBreaker(backoffAt))
	return cbRaw.(*circuit.Breaker)
}

func (r *HttpResolver) isAllowed(host string) bool {
	for _, pattern := range r.conf.AllowedHosts {
		if glob.Glob(strings.ToLower(pattern), host) {
			return true
		}
	}
	return false
}

func (r *HttpResolver) Resolve(ctx context.Context, source string) ([]byte, error) {
	u, err := url.Parse(strings.TrimSpace(source))
	if err != nil {
		return nil, errors.Wrap(err, "invalid url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unexpected scheme %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if !r.isAllowed(host) {
		return nil, errors.Wrap(ErrHostNotAllowed, host)
	}

	var data []byte
	cb := r.getBreaker(host)
	err = cb.CallContext(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return err
		}
		ua := r.conf.UserAgent
		if ua == "" {
			ua = version.UserAgent()
		}
		req.Header.Set("User-Agent", ua)
		req.Header.Set("Accept", "image/*")

		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status code %d", resp.StatusCode)
		}
		if r.conf.MaxBytes > 0 && resp.ContentLength > r.conf.MaxBytes {
			return fmt.Errorf("content length %s exceeds limit", humanize.Bytes(uint64(resp.ContentLength)))
		}

		var body io.ReadCloser = resp.Body
		if r.conf.MaxBytes > 0 {
			body = readers.LimitReaderWithOverrunError(resp.Body, r.conf.MaxBytes)
		}
		data, err = io.ReadAll(body)
		return err
	}, time.Duration(r.conf.TimeoutSeconds)*time.Second)
	if err != nil {
		r.log.Debugf("Error fetching %s: %s", host, err)
		return nil, err
	}
	return data, nil
}
