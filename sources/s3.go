package sources

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	"github.com/t2bot/image-loader/common/config"
	"github.com/t2bot/image-loader/util/readers"
)

// S3Resolver reads "s3:<bucket>/<object>" sources.
type S3Resolver struct {
	client   *minio.Client
	maxBytes int64
}

func NewS3Resolver(conf config.S3SourceConfig, maxBytes int64) (*S3Resolver, error) {
	if conf.Endpoint == "" {
		return nil, errors.New("invalid configuration: missing s3 endpoint")
	}
	client, err := minio.New(conf.Endpoint, &minio.Options{
		Region: conf.Region,
		Secure: conf.Ssl,
		Creds:  credentials.NewStaticV4(conf.AccessKeyId, conf.AccessSecret, ""),
	})
	if err != nil {
		return nil, err
	}
	return &S3Resolver{client: client, maxBytes: maxBytes}, nil
}

func parseS3Source(source string) (string, string, error) {
	p := strings.TrimPrefix(payload(source), "//")
	bucket, object, ok := strings.Cut(p, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("s3 source must look like s3:bucket/object, got %q", source)
	}
	return bucket, object, nil
}

func (r *S3Resolver) Resolve(ctx context.Context, source string) ([]byte, error) {
	bucket, object, err := parseS3Source(source)
	if err != nil {
		return nil, err
	}

	obj, err := r.client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	var rc io.ReadCloser = obj
	if r.maxBytes > 0 {
		rc = readers.LimitReaderWithOverrunError(obj, r.maxBytes)
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code != "" {
			return nil, fmt.Errorf("s3 %s: %s", resp.Code, resp.Message)
		}
		return nil, err
	}
	return b, nil
}
