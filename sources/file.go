package sources

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/pkg/errors"
	"github.com/t2bot/image-loader/util/readers"
)

// FileResolver reads "file:" sources (and bare absolute paths) below a root directory.
type FileResolver struct {
	fs       billy.Filesystem
	maxBytes int64
}

func NewFileResolver(rootPath string, maxBytes int64) *FileResolver {
	return NewFileResolverFs(osfs.New(rootPath), maxBytes)
}

func NewFileResolverFs(fs billy.Filesystem, maxBytes int64) *FileResolver {
	return &FileResolver{fs: fs, maxBytes: maxBytes}
}

func (r *FileResolver) Resolve(ctx context.Context, source string) ([]byte, error) {
	p, err := filePath(source)
	if err != nil {
		return nil, err
	}

	fi, err := r.fs.Stat(p)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%s is a directory", p)
	}
	if r.maxBytes > 0 && fi.Size() > r.maxBytes {
		return nil, fmt.Errorf("%s is larger than the %d byte limit", p, r.maxBytes)
	}

	f, err := r.fs.Open(p)
	if err != nil {
		return nil, err
	}
	var rc io.ReadCloser = f
	if r.maxBytes > 0 {
		rc = readers.LimitReaderWithOverrunError(f, r.maxBytes)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func filePath(source string) (string, error) {
	source = strings.TrimSpace(source)
	if strings.HasPrefix(source, "/") {
		return path.Clean(source), nil
	}
	u, err := url.Parse(source)
	if err != nil {
		return "", errors.Wrap(err, "invalid file url")
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("remote file host %q is not supported", u.Host)
	}
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	if p == "" {
		return "", errors.New("empty file path")
	}
	return path.Clean("/" + p), nil
}
