package sources

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// DataResolver decodes RFC 2397 "data:" URIs. Only the payload is used; the media type is
// ignored because the decoder sniffs content itself.
type DataResolver struct {
	maxBytes int64
}

func NewDataResolver(maxBytes int64) *DataResolver {
	return &DataResolver{maxBytes: maxBytes}
}

func (r *DataResolver) Resolve(ctx context.Context, source string) ([]byte, error) {
	meta, encoded, ok := strings.Cut(payload(source), ",")
	if !ok {
		return nil, errors.New("data uri is missing a comma")
	}

	var b []byte
	var err error
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		encoded = strings.Map(func(r rune) rune {
			if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
				return -1
			}
			return r
		}, encoded)
		b, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			// some producers strip the padding
			b, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		}
	} else {
		var s string
		s, err = url.PathUnescape(encoded)
		b = []byte(s)
	}
	if err != nil {
		return nil, errors.Wrap(err, "error decoding data uri")
	}
	if r.maxBytes > 0 && int64(len(b)) > r.maxBytes {
		return nil, fmt.Errorf("data uri payload is larger than %d bytes", r.maxBytes)
	}
	return b, nil
}
