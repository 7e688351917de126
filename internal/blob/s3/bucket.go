package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

const (
	// Bodies above multipartThreshold go through the upload manager in
	// partSize chunks. S3 rejects parts under 5 MiB.
	multipartThreshold = 16 << 20
	partSize           = 8 << 20

	// DeleteObjects accepts at most this many keys per call.
	deleteBatch = 1000

	seqMetadataKey = "ledger-seq"
)

var _ domain.ObjectStore = (*Bucket)(nil)

// Bucket is the ObjectStore backed by one S3 bucket.
type Bucket struct {
	api      *s3.Client
	name     string
	uploader *manager.Uploader
}

func newBucket(api *s3.Client, name string) *Bucket {
	return &Bucket{
		api:  api,
		name: name,
		uploader: manager.NewUploader(api, func(u *manager.Uploader) {
			u.PartSize = partSize
		}),
	}
}

// PutObject uploads body under key and records meta.Seq as object metadata.
func (b *Bucket) PutObject(ctx context.Context, key string, body []byte, meta domain.ObjectMeta) error {
	in := &s3.PutObjectInput{
		Bucket:   aws.String(b.name),
		Key:      aws.String(key),
		Body:     bytes.NewReader(body),
		Metadata: map[string]string{seqMetadataKey: strconv.FormatUint(meta.Seq, 10)},
	}
	if meta.ContentType != "" {
		in.ContentType = aws.String(meta.ContentType)
	}

	var err error
	if len(body) > multipartThreshold {
		_, err = b.uploader.Upload(ctx, in)
	} else {
		in.ContentLength = aws.Int64(int64(len(body)))
		_, err = b.api.PutObject(ctx, in)
	}
	if err != nil {
		return fmt.Errorf("s3blob: put %s (%d bytes): %w", key, len(body), err)
	}
	return nil
}

// GetObject downloads the object at key.
func (b *Bucket) GetObject(ctx context.Context, key string) ([]byte, error) {
	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: get %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read %s: %w", key, err)
	}
	return data, nil
}

// ListKeys pages through every key under prefix.
func (b *Bucket) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	pages := s3.NewListObjectsV2Paginator(b.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.name),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// DeleteObjects removes keys in batches. Per-key failures reported by S3
// are joined into the returned error.
func (b *Bucket) DeleteObjects(ctx context.Context, keys ...string) error {
	var errs []error
	for batch := range slices.Chunk(keys, deleteBatch) {
		ids := make([]types.ObjectIdentifier, len(batch))
		for i, k := range batch {
			ids[i] = types.ObjectIdentifier{Key: aws.String(k)}
		}
		out, err := b.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.name),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("s3blob: delete %d objects: %w", len(batch), err))
			continue
		}
		for _, e := range out.Errors {
			errs = append(errs, fmt.Errorf("s3blob: delete %s: %s %s",
				aws.ToString(e.Key), aws.ToString(e.Code), aws.ToString(e.Message)))
		}
	}
	return errors.Join(errs...)
}

// isNotFound reports whether err means the object does not exist.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	// Some S3-compatible providers only give the HTTP status.
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}
