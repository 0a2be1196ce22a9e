package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

//go:generate mockgen -destination=mocks/mock_storage.go -package=mocks . ObjectStorage

// ErrObjectNotFound is returned by StatObject and DownloadObject when the key
// does not exist in the bucket.
var ErrObjectNotFound = errors.New("storage: object not found")

// ObjectInfo represents metadata for a remote file/object.
type ObjectInfo struct {
	Bucket      string
	Key         string
	Size        int64
	MD5         []byte // nil when the backend does not report a content hash
	ContentType string
	Updated     time.Time
}

// ObjectStorage captures the bucket operations the exporter needs. A client
// is bound to a single bucket.
type ObjectStorage interface {
	Bucket() string
	// UploadFile copies the local file at srcPath to key, replacing any
	// existing object.
	UploadFile(ctx context.Context, key, srcPath, contentType string) (ObjectInfo, error)
	StatObject(ctx context.Context, key string) (ObjectInfo, error)
	DownloadObject(ctx context.Context, key string, destPath string) error
	Close() error
}
