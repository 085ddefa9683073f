package cloud

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/stageflow/stageflow-go/flow"
)

// GCSChecker checks object existence in Google Cloud Storage. Paths must be
// gs:// URLs; anything else is rejected rather than guessed at.
type GCSChecker struct {
	client *storage.Client
}

var _ flow.ExistenceChecker = (*GCSChecker)(nil)

// NewGCSChecker creates a checker backed by a new storage client.
// Credentials follow the usual Application Default Credentials chain; pass
// option.WithCredentialsFile or option.WithoutAuthentication to override.
//
// Example:
//
//	checker, err := cloud.NewGCSChecker(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer checker.Close()
func NewGCSChecker(ctx context.Context, opts ...option.ClientOption) (*GCSChecker, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSChecker{client: client}, nil
}

// NewGCSCheckerWithClient wraps an existing storage client. The caller keeps
// ownership of the client.
func NewGCSCheckerWithClient(client *storage.Client) *GCSChecker {
	return &GCSChecker{client: client}
}

// Exists reports whether the object at the gs:// URL exists.
func (c *GCSChecker) Exists(ctx context.Context, path string) (bool, error) {
	bucket, object, err := splitGCSPath(path)
	if err != nil {
		return false, err
	}
	_, err = c.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check %s: %w", path, err)
}

// Close releases the underlying storage client.
func (c *GCSChecker) Close() error {
	return c.client.Close()
}

// splitGCSPath parses "gs://bucket/object/key" into its bucket and object
// parts.
func splitGCSPath(path string) (bucket, object string, err error) {
	const prefix = "gs://"
	if !strings.HasPrefix(path, prefix) {
		return "", "", fmt.Errorf("not a gs:// path: %s", path)
	}
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("gs:// path must include a bucket and an object: %s", path)
	}
	return parts[0], parts[1], nil
}
