package visual

import (
	"context"
	"errors"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

// ArtifactStore keeps baseline, actual and diff images in a blob bucket,
// supporting local directories, S3, GCS, Azure Blob Storage, and
// S3-compatible stores
type ArtifactStore struct {
	bucket *blob.Bucket
}

const (
	BaselineDir = "baseline/"
	ActualDir   = "actual/"
	DiffDir     = "diffs/"

	pngExt      = ".png"
	diffExt     = ".diff.png"
	contentType = "image/png"
)

var ErrArtifactNotFound = errors.New("artifact not found")

// OpenArtifactStore opens the bucket at bucketURL, e.g. file:///var/shots
// or s3://bucket
func OpenArtifactStore(
	ctx context.Context, bucketURL string,
) (*ArtifactStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return NewArtifactStore(bucket), nil
}

// NewArtifactStore wraps an already opened bucket
func NewArtifactStore(bucket *blob.Bucket) *ArtifactStore {
	return &ArtifactStore{bucket: bucket}
}

func (s *ArtifactStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrArtifactNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *ArtifactStore) Put(ctx context.Context, key string, data []byte) error {
	return s.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{
		ContentType: contentType,
	})
}

func (s *ArtifactStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

func (s *ArtifactStore) Delete(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, key)
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

func (s *ArtifactStore) Close() error {
	return s.bucket.Close()
}

// BaselineKey is where the approved reference image for name lives
func BaselineKey(name string) string {
	return BaselineDir + name + pngExt
}

// ActualKey is where the most recent mismatching screenshot lives
func ActualKey(name string) string {
	return ActualDir + name + pngExt
}

// DiffKey is where the most recent difference image lives
func DiffKey(name string) string {
	return DiffDir + name + diffExt
}
