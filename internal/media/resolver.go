package media

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Resolver turns a stored image reference (a GCS object name or an absolute
// URL) into a URL a client can load.
type Resolver interface {
	ResolveURL(ctx context.Context, ref string) string
}

// Passthrough returns references unchanged. Used when no bucket is
// configured and in tests.
type Passthrough struct{}

func (Passthrough) ResolveURL(_ context.Context, ref string) string {
	return ref
}

type gcsResolver struct {
	client *storage.Client
	bucket string
	ttl    time.Duration
}

// NewGCSResolver resolves object names against the given bucket via signed
// URLs. credentialsFile may be empty, in which case application default
// credentials are used.
func NewGCSResolver(ctx context.Context, bucket, credentialsFile string, ttl time.Duration) (Resolver, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &gcsResolver{client: client, bucket: bucket, ttl: ttl}, nil
}

func (r *gcsResolver) ResolveURL(_ context.Context, ref string) string {
	if ref == "" || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	url, err := r.client.Bucket(r.bucket).SignedURL(ref, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(r.ttl),
	})
	if err != nil {
		// Fall back to the public object URL; private objects will 403
		// rather than break the whole payload.
		return "https://storage.googleapis.com/" + r.bucket + "/" + ref
	}
	return url
}
