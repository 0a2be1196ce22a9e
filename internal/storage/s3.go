package storage

import (
	"context"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/andresuchdata/catalog-export/internal/domain"
)

// S3Config encapsulates the connection info for S3-compatible storage.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// S3Client implements ObjectStorage for S3-compatible services.
type S3Client struct {
	client *minio.Client
	bucket string
}

// NewS3Client builds a new S3Client backed by minio-go.
func NewS3Client(cfg S3Config) (*S3Client, error) {
	const op = "s3 client"

	if cfg.Endpoint == "" {
		return nil, domain.Errorf(domain.KindConfig, op, "s3 endpoint must be provided")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, domain.Errorf(domain.KindConfig, op, "s3 credentials must be provided")
	}
	if cfg.Bucket == "" {
		return nil, domain.Errorf(domain.KindConfig, op, "s3 bucket must be provided")
	}

	endpoint, secure := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)

	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: region,
	})
	if err != nil {
		return nil, domain.E(domain.KindConfig, op, err)
	}

	return &S3Client{client: client, bucket: cfg.Bucket}, nil
}

// normalizeEndpoint strips an explicit scheme, which minio expects as a flag.
func normalizeEndpoint(endpoint string, useSSL bool) (string, bool) {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "https://"), "/"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "http://"), "/"), false
	}
	return strings.TrimSuffix(strings.TrimPrefix(endpoint, "//"), "/"), useSSL
}

func (c *S3Client) Bucket() string { return c.bucket }

func (c *S3Client) UploadFile(ctx context.Context, key, srcPath, contentType string) (ObjectInfo, error) {
	info, err := c.client.FPutObject(ctx, c.bucket, key, srcPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return ObjectInfo{}, classifyS3Error("s3 upload", err)
	}

	return ObjectInfo{
		Bucket:      c.bucket,
		Key:         key,
		Size:        info.Size,
		MD5:         etagMD5(info.ETag),
		ContentType: contentType,
		Updated:     info.LastModified,
	}, nil
}

func (c *S3Client) StatObject(ctx context.Context, key string) (ObjectInfo, error) {
	st, err := c.client.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return ObjectInfo{}, domain.E(domain.KindUpload, "s3 stat", errors.Wrapf(ErrObjectNotFound, "s3://%s/%s", c.bucket, key))
		}
		return ObjectInfo{}, classifyS3Error("s3 stat", err)
	}

	return ObjectInfo{
		Bucket:      c.bucket,
		Key:         st.Key,
		Size:        st.Size,
		MD5:         etagMD5(st.ETag),
		ContentType: st.ContentType,
		Updated:     st.LastModified,
	}, nil
}

// DownloadObject downloads an object to the provided destination path.
func (c *S3Client) DownloadObject(ctx context.Context, key, destPath string) error {
	err := c.client.FGetObject(ctx, c.bucket, key, destPath, minio.GetObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return domain.E(domain.KindUpload, "s3 download", errors.Wrapf(ErrObjectNotFound, "s3://%s/%s", c.bucket, key))
		}
		return classifyS3Error("s3 download", err)
	}
	return nil
}

func (c *S3Client) Close() error { return nil }

// etagMD5 decodes a single-part upload ETag, which is the hex MD5 of the
// content. Multipart ETags ("<hash>-<parts>") carry no usable hash.
func etagMD5(etag string) []byte {
	etag = strings.Trim(etag, `"`)
	if len(etag) != 32 {
		return nil
	}
	sum, err := hex.DecodeString(etag)
	if err != nil {
		return nil
	}
	return sum
}

func classifyS3Error(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
		return domain.E(domain.KindAuth, op, err)
	case "NoSuchBucket":
		return domain.E(domain.KindUpload, op, errors.Wrap(err, "bucket does not exist"))
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return domain.E(domain.KindAuth, op, err)
	}
	return domain.E(domain.KindUpload, op, err)
}

var _ ObjectStorage = (*S3Client)(nil)
