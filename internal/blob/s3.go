// Package blob mirrors inventory snapshots to S3-compatible object storage.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/joshp123/midea/internal/config"
)

// maxDocumentBytes bounds a single mirrored document.
const maxDocumentBytes = 8 << 20

var ErrNotFound = errors.New("blob not found")

// Store reads and writes named JSON documents.
type Store interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
}

// S3Store keeps one JSON object per document name under a key prefix.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

type endpoint struct {
	host   string
	secure bool
}

func NewS3Store(cfg *config.BlobConfig) (*S3Store, error) {
	return newS3Store(cfg, nil)
}

// newS3Store uses transport for every request when it is non-nil.
func newS3Store(cfg *config.BlobConfig, transport http.RoundTripper) (*S3Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("missing blob config")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("blob bucket is required")
	}
	ep, err := parseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	creds, err := staticCredentials(cfg.AccessKeyFile, cfg.SecretKeyFile)
	if err != nil {
		return nil, err
	}

	opts := &minio.Options{
		Creds:  creds,
		Secure: ep.secure,
		Region: strings.TrimSpace(cfg.Region),
	}
	if transport != nil {
		opts.Transport = transport
	}
	client, err := minio.New(ep.host, opts)
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	prefix := strings.Trim(strings.TrimSpace(cfg.Prefix), "/")
	if prefix == "" {
		prefix = config.DefaultBlobPrefix
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix}, nil
}

// Load returns ErrNotFound when the document was never saved.
func (s *S3Store) Load(ctx context.Context, name string) ([]byte, error) {
	key := s.objectKey(name)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify("load", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, maxDocumentBytes+1))
	if err != nil {
		return nil, classify("load", key, err)
	}
	if len(data) > maxDocumentBytes {
		return nil, fmt.Errorf("load %s: document exceeds %d bytes", key, maxDocumentBytes)
	}
	return data, nil
}

func (s *S3Store) Save(ctx context.Context, name string, data []byte) error {
	if len(data) > maxDocumentBytes {
		return fmt.Errorf("save %s: document exceeds %d bytes", name, maxDocumentBytes)
	}
	key := s.objectKey(name)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  "application/json",
		CacheControl: "no-cache",
	})
	if err != nil {
		return classify("save", key, err)
	}
	return nil
}

func (s *S3Store) objectKey(name string) string {
	return path.Join(s.prefix, name+".json")
}

func classify(op, key string, err error) error {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) && (resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}

// parseEndpoint accepts a bare host, which implies TLS, or an http(s) URL.
func parseEndpoint(raw string) (endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return endpoint{}, fmt.Errorf("blob endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return endpoint{}, fmt.Errorf("parse endpoint: %w", err)
	}
	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return endpoint{}, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	case u.Host == "":
		return endpoint{}, fmt.Errorf("invalid endpoint: %q", raw)
	}
	return endpoint{host: u.Host, secure: u.Scheme == "https"}, nil
}

func staticCredentials(accessKeyFile, secretKeyFile string) (*credentials.Credentials, error) {
	keys := make([]string, 0, 2)
	for _, file := range []struct{ label, path string }{
		{"access key", accessKeyFile},
		{"secret key", secretKeyFile},
	} {
		if strings.TrimSpace(file.path) == "" {
			return nil, fmt.Errorf("blob %s file is required", file.label)
		}
		data, err := os.ReadFile(file.path)
		if err != nil {
			return nil, fmt.Errorf("read blob %s: %w", file.label, err)
		}
		keys = append(keys, strings.TrimSpace(string(data)))
	}
	return credentials.NewStaticV4(keys[0], keys[1], ""), nil
}
