package uploader

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/andresuchdata/catalog-export/internal/domain"
	"github.com/andresuchdata/catalog-export/internal/storage"
	"github.com/andresuchdata/catalog-export/pkg/logger"
)

const (
	opUpload = "upload"

	// ContentType is the media type set on uploaded objects.
	ContentType = "text/csv"
)

// Request names a local file and the object it should become.
type Request struct {
	SourcePath string
	ObjectName string
}

// Uploader copies local files into object storage.
type Uploader struct {
	store  storage.ObjectStorage
	verify bool
}

type Option func(*Uploader)

// WithVerify makes Upload stat the remote object afterwards and compare its
// size and MD5 with the local file.
func WithVerify(verify bool) Option {
	return func(u *Uploader) {
		u.verify = verify
	}
}

func New(store storage.ObjectStorage, opts ...Option) *Uploader {
	u := &Uploader{store: store}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Bucket returns the destination bucket name.
func (u *Uploader) Bucket() string {
	return u.store.Bucket()
}

// Upload sends req.SourcePath to the bucket as req.ObjectName, replacing any
// existing object with that name.
func (u *Uploader) Upload(ctx context.Context, req Request) (storage.ObjectInfo, error) {
	if strings.TrimSpace(req.ObjectName) == "" {
		return storage.ObjectInfo{}, domain.Errorf(domain.KindConfig, opUpload, "object name is required")
	}

	fi, err := os.Stat(req.SourcePath)
	if err != nil {
		return storage.ObjectInfo{}, domain.E(domain.KindFilesystem, opUpload, errors.Wrapf(err, "source file %s", req.SourcePath))
	}
	if !fi.Mode().IsRegular() {
		return storage.ObjectInfo{}, domain.Errorf(domain.KindFilesystem, opUpload, "source %s is not a regular file", req.SourcePath)
	}

	info, err := u.store.UploadFile(ctx, req.ObjectName, req.SourcePath, ContentType)
	if err != nil {
		return storage.ObjectInfo{}, err
	}

	if u.verify {
		info, err = u.verifyObject(ctx, req, fi.Size())
		if err != nil {
			return storage.ObjectInfo{}, err
		}
	}

	logger.Log.Info().
		Str("source", req.SourcePath).
		Str("object", req.ObjectName).
		Str("bucket", u.store.Bucket()).
		Int64("bytes", info.Size).
		Msg("file uploaded")

	return info, nil
}

func (u *Uploader) verifyObject(ctx context.Context, req Request, size int64) (storage.ObjectInfo, error) {
	const op = "verify upload"

	remote, err := u.store.StatObject(ctx, req.ObjectName)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	if remote.Size != size {
		return storage.ObjectInfo{}, domain.Errorf(domain.KindUpload, op,
			"size mismatch for %s: local %d bytes, remote %d bytes", req.ObjectName, size, remote.Size)
	}

	// Some backends (multipart S3 uploads) report no MD5; size is all we can compare then.
	if len(remote.MD5) == 0 {
		logger.Log.Debug().Str("object", req.ObjectName).Msg("remote object has no md5, checked size only")
		return remote, nil
	}

	local, err := fileMD5(req.SourcePath)
	if err != nil {
		return storage.ObjectInfo{}, domain.E(domain.KindFilesystem, op, err)
	}
	if !bytes.Equal(local, remote.MD5) {
		return storage.ObjectInfo{}, domain.Errorf(domain.KindUpload, op,
			"md5 mismatch for %s: local %s, remote %s", req.ObjectName, hex.EncodeToString(local), hex.EncodeToString(remote.MD5))
	}

	return remote, nil
}

func fileMD5(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, errors.Wrapf(err, "hash %s", path)
	}
	return h.Sum(nil), nil
}
