// Package dataset reads the static CSV datasets and model artefacts the
// service loads at startup. Paths are local files or s3://bucket/key URIs;
// a ".zst" suffix is decompressed transparently.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/zstd"

	"crowdpark/internal/types"
)

const (
	s3Scheme  = "s3"
	zstSuffix = ".zst"
)

// S3API is the subset of the S3 client the opener uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Opener resolves dataset paths to readers.
type Opener struct {
	s3 S3API
}

// NewOpener returns an Opener. s3Client may be nil when no path uses s3://.
func NewOpener(s3Client S3API) *Opener {
	return &Opener{s3: s3Client}
}

// Open returns a reader for path. The caller closes it.
func (o *Opener) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	rc, err := o.openRaw(ctx, path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, zstSuffix) {
		return rc, nil
	}

	dec, err := zstd.NewReader(rc, zstd.WithDecoderConcurrency(1))
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("opening zstd stream %s: %w", path, err)
	}
	return &zstdReadCloser{dec: dec, src: rc}, nil
}

func (o *Opener) openRaw(ctx context.Context, path string) (io.ReadCloser, error) {
	bucket, key, isS3, err := ParseS3URI(path)
	if err != nil {
		return nil, err
	}
	if !isS3 {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		return f, nil
	}

	if o.s3 == nil {
		return nil, fmt.Errorf("opening %s: no S3 client configured", path)
	}
	out, err := o.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, types.NewAppError(types.ErrCodeUpstreamDatasetNotFound,
				fmt.Sprintf("dataset %s not found", path), err)
		}
		return nil, fmt.Errorf("fetching %s: %w", path, err)
	}
	return out.Body, nil
}

// ParseS3URI splits s3://bucket/key. isS3 is false for any other path.
func ParseS3URI(path string) (bucket, key string, isS3 bool, err error) {
	if !strings.HasPrefix(path, s3Scheme+"://") {
		return "", "", false, nil
	}
	u, err := url.Parse(path)
	if err != nil {
		return "", "", true, fmt.Errorf("parsing %s: %w", path, err)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", true, fmt.Errorf("s3 path %s needs both bucket and key", path)
	}
	return u.Host, key, true, nil
}

type zstdReadCloser struct {
	dec *zstd.Decoder
	src io.Closer
}

func (z *zstdReadCloser) Read(p []byte) (int, error) {
	return z.dec.Read(p)
}

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.src.Close()
}
