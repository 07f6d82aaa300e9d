// Package source fetches raw statement bytes for the pipeline. A batch can be
// referenced by a local path or by a gs:// URI.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
)

// Fetch returns the raw bytes and base filename for ref. A "gs://" ref is
// downloaded from Cloud Storage; anything else is read from the filesystem.
func Fetch(ctx context.Context, ref string) ([]byte, string, error) {
	if strings.HasPrefix(ref, "gs://") {
		bucket, object, err := ParseGCSURI(ref)
		if err != nil {
			return nil, "", err
		}
		data, err := download(ctx, bucket, object)
		if err != nil {
			return nil, "", err
		}
		return data, path.Base(object), nil
	}

	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, "", fmt.Errorf("reading statement file: %w", err)
	}
	return data, filepath.Base(ref), nil
}

// ParseGCSURI splits "gs://bucket/path/to/object" into bucket and object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI %q", uri)
	}
	return parts[0], parts[1], nil
}

func download(ctx context.Context, bucket, object string) ([]byte, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	defer client.Close()

	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read GCS object: %w", err)
	}
	return data, nil
}
