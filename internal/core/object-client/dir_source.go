package objectclient

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/markdave123-py/kbchat/internal/core"
)

// DirSource serves a local directory as the knowledge-base container. Blob
// names are slash-separated paths relative to the root.
type DirSource struct {
	root string
}

func NewDirSource(root string) (*DirSource, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, core.ConfigError("blob dir %q: %v", root, err)
	}
	if !info.IsDir() {
		return nil, core.ConfigError("blob dir %q is not a directory", root)
	}
	return &DirSource{root: root}, nil
}

func (d *DirSource) List(ctx context.Context) ([]string, error) {
	var names []string
	err := filepath.WalkDir(d.root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.root, err)
	}
	sort.Strings(names)
	return names, nil
}

func (d *DirSource) Download(_ context.Context, name string) ([]byte, error) {
	p, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// UploadFile writes data under the root and returns a file:// URL.
func (d *DirSource) UploadFile(_ context.Context, key string, data []byte, _ string) (string, error) {
	p, err := d.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(p), nil
}

// resolve maps a blob name to a path, refusing names that escape the root.
func (d *DirSource) resolve(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	return filepath.Join(d.root, clean), nil
}

var (
	_ core.BlobSource   = (*DirSource)(nil)
	_ core.BlobUploader = (*DirSource)(nil)
)
