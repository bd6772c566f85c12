// Package archive publishes an evaluation directory to S3-compatible object
// storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/vk/labgrid/internal/config"
	"github.com/vk/labgrid/internal/ctxlog"
	"github.com/vk/labgrid/internal/fsutil"
)

// Store abstracts the bucket the archive is written to.
type Store interface {
	EnsureBucket(ctx context.Context) error
	PutFile(ctx context.Context, key, path, contentType string) error
}

// MinIO stores objects in one bucket through the minio client.
type MinIO struct {
	client *minio.Client
	bucket string
	region string
}

// NewMinIO creates a client for cfg. No request is made until first use.
func NewMinIO(cfg config.Archive) (*MinIO, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("archive needs an endpoint and a bucket")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating object storage client: %w", err)
	}
	return &MinIO{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

func (m *MinIO) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	return m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region})
}

func (m *MinIO) PutFile(ctx context.Context, key, path, contentType string) error {
	_, err := m.client.FPutObject(ctx, m.bucket, key, path, minio.PutObjectOptions{ContentType: contentType})
	return err
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Upload copies every non-hidden file below dir to store under prefix,
// keeping relative paths. It returns the object keys written.
func Upload(ctx context.Context, store Store, dir, prefix string) ([]string, error) {
	logger := ctxlog.FromContext(ctx)
	files, err := fsutil.FindFiles(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("nothing to archive in %s", dir)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(files))
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return keys, err
		}
		key := path.Join(prefix, rel)
		if err := store.PutFile(ctx, key, filepath.Join(dir, filepath.FromSlash(rel)), contentType(rel)); err != nil {
			return keys, fmt.Errorf("uploading %s: %w", rel, err)
		}
		logger.Debug("Archived file.", "key", key)
		keys = append(keys, key)
	}
	logger.Info("Archive uploaded.", "files", len(keys), "prefix", prefix)
	return keys, nil
}

func contentType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
