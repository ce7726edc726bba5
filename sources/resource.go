package sources

import (
	"context"
	"io/fs"
	"path"
	"strings"

	"github.com/pkg/errors"
)

// ResourceResolver serves "res:" sources out of an fs.FS, normally one built with embed.
type ResourceResolver struct {
	fsys fs.FS
}

func NewResourceResolver(fsys fs.FS) *ResourceResolver {
	return &ResourceResolver{fsys: fsys}
}

func (r *ResourceResolver) Resolve(ctx context.Context, source string) ([]byte, error) {
	name := strings.TrimPrefix(path.Clean("/"+strings.TrimPrefix(payload(source), "//")), "/")
	if !fs.ValidPath(name) || name == "." {
		return nil, errors.Errorf("invalid resource name %q", name)
	}
	return fs.ReadFile(r.fsys, name)
}
