package staging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore is the subset of remote object-store operations staging needs.
// The production implementation is MinioStore; tests use an in-memory stub.
type ObjectStore interface {
	CreateContainer(ctx context.Context, name string) error
	DeleteContainer(ctx context.Context, name string) error
	Put(ctx context.Context, container, key, localPath string) error
	Get(ctx context.Context, container, key, localPath string) error
	List(ctx context.Context, container string) ([]string, error)
	PresignRead(ctx context.Context, container, key string, ttl time.Duration) (string, error)
	PresignWrite(ctx context.Context, container string, ttl time.Duration) (string, error)
}

// StoreConfig holds the credentials and endpoint of the object store.
type StoreConfig struct {
	// Endpoint is host[:port], optionally prefixed with http:// or https://.
	// Without a scheme, https is assumed.
	Endpoint  string
	AccessKey string
	SecretKey string
}

// MinioStore implements ObjectStore against any S3-compatible object store.
type MinioStore struct {
	client *minio.Client
}

// NewMinioStore connects a MinioStore to the configured endpoint.
func NewMinioStore(cfg StoreConfig) (*MinioStore, error) {
	endpoint, secure := splitEndpoint(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}
	return &MinioStore{client: client}, nil
}

func splitEndpoint(endpoint string) (host string, secure bool) {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimPrefix(endpoint, "https://"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimPrefix(endpoint, "http://"), false
	default:
		return endpoint, true
	}
}

// CreateContainer makes a new container. A name collision is an error: the
// orchestrator owns every container it runs against and must not adopt one
// that already exists.
func (s *MinioStore) CreateContainer(ctx context.Context, name string) error {
	return s.client.MakeBucket(ctx, name, minio.MakeBucketOptions{})
}

// DeleteContainer removes a container and everything in it. An already absent
// container is success.
func (s *MinioStore) DeleteContainer(ctx context.Context, name string) error {
	err := s.client.RemoveBucketWithOptions(ctx, name, minio.RemoveBucketOptions{ForceDelete: true})
	if err != nil && minio.ToErrorResponse(err).Code == "NoSuchBucket" {
		return nil
	}
	return err
}

func (s *MinioStore) Put(ctx context.Context, container, key, localPath string) error {
	_, err := s.client.FPutObject(ctx, container, key, localPath, minio.PutObjectOptions{})
	return err
}

func (s *MinioStore) Get(ctx context.Context, container, key, localPath string) error {
	return s.client.FGetObject(ctx, container, key, localPath, minio.GetObjectOptions{})
}

func (s *MinioStore) List(ctx context.Context, container string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, container, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (s *MinioStore) PresignRead(ctx context.Context, container, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, container, key, ttl, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// PresignWrite mints a container-scoped write capability: a presigned POST
// policy that accepts any key in the container until it expires.
func (s *MinioStore) PresignWrite(ctx context.Context, container string, ttl time.Duration) (string, error) {
	policy := minio.NewPostPolicy()
	if err := policy.SetBucket(container); err != nil {
		return "", err
	}
	if err := policy.SetKeyStartsWith(""); err != nil {
		return "", err
	}
	if err := policy.SetExpires(time.Now().UTC().Add(ttl)); err != nil {
		return "", err
	}
	u, _, err := s.client.PresignedPostPolicy(ctx, policy)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
