package storage

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

// ObjectStore is the durable home for uploaded bytes.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) (string, error)
	RemoveObject(ctx context.Context, key string) error
}

type MinioStore struct {
	Client        *minio.Client
	Bucket        string
	PublicBaseURL string
}

func NewMinioStore(endpoint, accessKey, secretKey string, secure bool, bucket, publicBaseURL string) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, errors.Wrap(err, "minio client")
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, errors.Wrap(err, "minio bucket check")
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrap(err, "minio make bucket")
		}
	}

	if publicBaseURL == "" {
		scheme := "http"
		if secure {
			scheme = "https"
		}
		publicBaseURL = fmt.Sprintf("%s://%s/%s", scheme, endpoint, bucket)
	}
	return &MinioStore{Client: client, Bucket: bucket, PublicBaseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// PutObject uploads data under key and returns its public URL.
func (s *MinioStore) PutObject(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	reader := bytes.NewReader(data)
	_, err := s.Client.PutObject(ctx, s.Bucket, key, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", errors.Wrapf(err, "put object %s", key)
	}
	return s.PublicURL(key), nil
}

func (s *MinioStore) RemoveObject(ctx context.Context, key string) error {
	if err := s.Client.RemoveObject(ctx, s.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrapf(err, "remove object %s", key)
	}
	return nil
}

func (s *MinioStore) PublicURL(key string) string {
	return s.PublicBaseURL + "/" + strings.TrimLeft(key, "/")
}

func GuessContentType(filename string, fallback string) string {
	if ext := path.Ext(filename); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}
	if strings.TrimSpace(fallback) != "" {
		return fallback
	}
	return "application/octet-stream"
}

// UploadKey namespaces an object by owner and identifier.
func UploadKey(userID, id, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return path.Join("uploads", userID, id+strings.ToLower(ext))
}
