// Package storage saves uploaded product images on local disk and serves
// them under a URL prefix.
package storage

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"storefront/internal/domain"
)

var allowedExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true}

type LocalImages struct {
	dir       string
	urlPrefix string
}

func NewLocalImages(dir, urlPrefix string) (*LocalImages, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create upload dir %s", dir)
	}
	return &LocalImages{dir: dir, urlPrefix: strings.TrimRight(urlPrefix, "/")}, nil
}

func (s *LocalImages) Dir() string { return s.dir }

// Save stores r under a fresh name and returns its public URL.
func (s *LocalImages) Save(ctx context.Context, originalName string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if !allowedExt[ext] {
		return "", errors.Wrapf(domain.ErrInvalidInput, "unsupported image type %q", ext)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := uuid.NewString() + ext
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", errors.Wrap(err, "create image file")
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return "", errors.Wrap(err, "write image file")
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrap(err, "close image file")
	}
	return s.urlPrefix + "/" + name, nil
}

// Delete removes an image previously returned by Save. Unknown URLs and
// already missing files are ignored.
func (s *LocalImages) Delete(ctx context.Context, url string) error {
	if !strings.HasPrefix(url, s.urlPrefix+"/") {
		return nil
	}
	name := path.Base(url)
	if name == "." || name == "/" || strings.Contains(name, "..") {
		return nil
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "delete image file")
	}
	return nil
}
