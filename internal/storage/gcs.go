package storage

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	gcs "cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/andresuchdata/catalog-export/internal/domain"
)

// GCSConfig encapsulates the connection info for Google Cloud Storage.
type GCSConfig struct {
	Bucket          string
	CredentialsPath string
	// Endpoint overrides the API endpoint, e.g. for fake-gcs-server. Without
	// credentials the client runs unauthenticated.
	Endpoint string
}

// GCSClient implements ObjectStorage for Google Cloud Storage.
type GCSClient struct {
	client *gcs.Client
	bucket string
}

// NewGCSClient authenticates with the service-account key file and builds a
// storage client for cfg.Bucket. The bucket itself is not checked here; a
// missing bucket surfaces on the first upload.
func NewGCSClient(ctx context.Context, cfg GCSConfig) (*GCSClient, error) {
	const op = "gcs client"

	if cfg.Bucket == "" {
		return nil, domain.Errorf(domain.KindConfig, op, "gcs bucket must be provided")
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	switch {
	case cfg.CredentialsPath != "":
		httpClient, err := serviceAccountClient(ctx, cfg.CredentialsPath)
		if err != nil {
			return nil, domain.E(domain.KindAuth, op, err)
		}
		opts = append(opts, option.WithHTTPClient(httpClient))
	case cfg.Endpoint != "":
		opts = append(opts, option.WithoutAuthentication())
	default:
		return nil, domain.Errorf(domain.KindConfig, op, "gcs credentials path must be provided")
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, domain.E(domain.KindAuth, op, errors.Wrap(err, "unable to create storage client"))
	}

	return &GCSClient{client: client, bucket: cfg.Bucket}, nil
}

func serviceAccountClient(ctx context.Context, credentialsPath string) (*http.Client, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read service account key")
	}

	// Parse credentials from JSON
	config, err := google.JWTConfigFromJSON(data, gcs.ScopeReadWrite)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to parse service account key %s", filepath.Base(credentialsPath))
	}

	return config.Client(ctx), nil
}

func (c *GCSClient) Bucket() string { return c.bucket }

// UploadFile streams the file into the object, replacing any existing one.
func (c *GCSClient) UploadFile(ctx context.Context, key, srcPath, contentType string) (ObjectInfo, error) {
	const op = "gcs upload"

	f, err := os.Open(srcPath)
	if err != nil {
		return ObjectInfo{}, domain.E(domain.KindFilesystem, op, err)
	}
	defer f.Close()

	// Cancelling the writer's context is the only way to abort a GCS upload.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := c.client.Bucket(c.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, f); err != nil {
		cancel()
		w.Close()
		return ObjectInfo{}, classifyGCSError(op, err)
	}
	if err := w.Close(); err != nil {
		return ObjectInfo{}, classifyGCSError(op, err)
	}

	return gcsObjectInfo(w.Attrs()), nil
}

func (c *GCSClient) StatObject(ctx context.Context, key string) (ObjectInfo, error) {
	attrs, err := c.client.Bucket(c.bucket).Object(key).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return ObjectInfo{}, domain.E(domain.KindUpload, "gcs stat", errors.Wrapf(ErrObjectNotFound, "gs://%s/%s", c.bucket, key))
	}
	if err != nil {
		return ObjectInfo{}, classifyGCSError("gcs stat", err)
	}
	return gcsObjectInfo(attrs), nil
}

// DownloadObject downloads an object to the provided destination path.
func (c *GCSClient) DownloadObject(ctx context.Context, key, destPath string) error {
	const op = "gcs download"

	r, err := c.client.Bucket(c.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return domain.E(domain.KindUpload, op, errors.Wrapf(ErrObjectNotFound, "gs://%s/%s", c.bucket, key))
	}
	if err != nil {
		return classifyGCSError(op, err)
	}
	defer r.Close()

	return writeLocalFile(op, destPath, r)
}

func (c *GCSClient) Close() error {
	return c.client.Close()
}

func gcsObjectInfo(attrs *gcs.ObjectAttrs) ObjectInfo {
	if attrs == nil {
		return ObjectInfo{}
	}
	return ObjectInfo{
		Bucket:      attrs.Bucket,
		Key:         attrs.Name,
		Size:        attrs.Size,
		MD5:         attrs.MD5,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
	}
}

func classifyGCSError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return domain.E(domain.KindAuth, op, err)
		}
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return domain.E(domain.KindAuth, op, err)
	}
	if errors.Is(err, gcs.ErrBucketNotExist) {
		return domain.E(domain.KindUpload, op, errors.Wrap(err, "bucket does not exist"))
	}
	return domain.E(domain.KindUpload, op, err)
}

var _ ObjectStorage = (*GCSClient)(nil)
