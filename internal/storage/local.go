package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	cmstorage "github.com/chartmuseum/storage"
	"github.com/pkg/errors"

	"github.com/andresuchdata/catalog-export/internal/domain"
)

// LocalConfig describes a directory-backed bucket: Dir/Bucket must exist.
type LocalConfig struct {
	Dir    string
	Bucket string
}

// LocalClient implements ObjectStorage on the local filesystem. It backs
// development runs and tests that need a real bucket.
type LocalClient struct {
	backend *cmstorage.LocalFilesystemBackend
	root    string
	bucket  string
}

// NewLocalClient builds a new LocalClient backed by chartmuseum's local filesystem backend.
func NewLocalClient(cfg LocalConfig) (*LocalClient, error) {
	const op = "local storage"

	if cfg.Dir == "" {
		return nil, domain.Errorf(domain.KindConfig, op, "local storage dir must be provided")
	}
	if cfg.Bucket == "" || strings.ContainsAny(cfg.Bucket, `/\`) || cfg.Bucket == ".." {
		return nil, domain.Errorf(domain.KindConfig, op, "invalid bucket name %q", cfg.Bucket)
	}

	root, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, domain.E(domain.KindConfig, op, err)
	}

	return &LocalClient{
		backend: cmstorage.NewLocalFilesystemBackend(root),
		root:    root,
		bucket:  cfg.Bucket,
	}, nil
}

func (c *LocalClient) Bucket() string { return c.bucket }

func (c *LocalClient) objectPath(key string) (string, error) {
	cleaned := path.Clean("/" + key)
	if key == "" || cleaned == "/" || strings.HasSuffix(key, "/") {
		return "", errors.Errorf("invalid object key %q", key)
	}
	return path.Join(c.bucket, cleaned), nil
}

func (c *LocalClient) checkBucket(op string) error {
	info, err := os.Stat(filepath.Join(c.root, c.bucket))
	if err != nil || !info.IsDir() {
		return domain.Errorf(domain.KindUpload, op, "bucket %s does not exist under %s", c.bucket, c.root)
	}
	return nil
}

func (c *LocalClient) UploadFile(ctx context.Context, key, srcPath, contentType string) (ObjectInfo, error) {
	const op = "local upload"

	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, domain.E(domain.KindUpload, op, err)
	}
	if err := c.checkBucket(op); err != nil {
		return ObjectInfo{}, err
	}
	objPath, err := c.objectPath(key)
	if err != nil {
		return ObjectInfo{}, domain.E(domain.KindConfig, op, err)
	}

	content, err := os.ReadFile(srcPath)
	if err != nil {
		return ObjectInfo{}, domain.E(domain.KindFilesystem, op, err)
	}
	if err := c.backend.PutObject(objPath, content); err != nil {
		return ObjectInfo{}, domain.E(domain.KindUpload, op, err)
	}

	return c.StatObject(ctx, key)
}

func (c *LocalClient) getObject(op, key string) (cmstorage.Object, error) {
	objPath, err := c.objectPath(key)
	if err != nil {
		return cmstorage.Object{}, domain.E(domain.KindConfig, op, err)
	}
	object, err := c.backend.GetObject(objPath)
	if errors.Is(err, fs.ErrNotExist) {
		return cmstorage.Object{}, domain.E(domain.KindUpload, op, errors.Wrapf(ErrObjectNotFound, "%s/%s", c.bucket, key))
	}
	if err != nil {
		return cmstorage.Object{}, domain.E(domain.KindUpload, op, err)
	}
	return object, nil
}

func (c *LocalClient) StatObject(ctx context.Context, key string) (ObjectInfo, error) {
	object, err := c.getObject("local stat", key)
	if err != nil {
		return ObjectInfo{}, err
	}
	sum := md5.Sum(object.Content)
	return ObjectInfo{
		Bucket:      c.bucket,
		Key:         key,
		Size:        int64(len(object.Content)),
		MD5:         sum[:],
		ContentType: contentTypeFor(key),
		Updated:     object.LastModified,
	}, nil
}

// DownloadObject downloads an object to the provided destination path.
func (c *LocalClient) DownloadObject(ctx context.Context, key, destPath string) error {
	object, err := c.getObject("local download", key)
	if err != nil {
		return err
	}
	return writeLocalFile("local download", destPath, bytes.NewReader(object.Content))
}

func (c *LocalClient) Close() error { return nil }

func contentTypeFor(key string) string {
	if strings.EqualFold(path.Ext(key), ".csv") {
		return "text/csv"
	}
	return "application/octet-stream"
}

func writeLocalFile(op, destPath string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return domain.E(domain.KindFilesystem, op, errors.Wrapf(err, "failed creating directory for %s", destPath))
	}
	f, err := os.Create(destPath)
	if err != nil {
		return domain.E(domain.KindFilesystem, op, errors.Wrapf(err, "failed creating %s", destPath))
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return domain.E(domain.KindUpload, op, errors.Wrapf(err, "failed writing %s", destPath))
	}
	if err := f.Close(); err != nil {
		return domain.E(domain.KindFilesystem, op, err)
	}
	return nil
}

var _ ObjectStorage = (*LocalClient)(nil)
