package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3API defines the subset of the S3 client interface used by S3Store.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store resolves attachments directly from an S3-compatible bucket,
// for deployments where the bucket is reachable without the safe-storage
// front service. The clientID is unused; bucket policy covers access.
type S3Store struct {
	client s3API
	bucket string
	prefix string
}

// S3Config configures an S3Store.
type S3Config struct {
	Bucket   string
	Prefix   string
	Endpoint string
	Region   string
}

// NewS3Store creates an S3Store with the given client, bucket, and key prefix.
func NewS3Store(client s3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

// NewS3StoreFromConfig creates an S3Store backed by a real AWS S3 client.
// It supports custom endpoints (e.g. MinIO) via cfg.Endpoint.
func NewS3StoreFromConfig(ctx context.Context, cfg S3Config) (*S3Store, error) {
	optFns := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3OptFns := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3OptFns = append(s3OptFns, func(o *s3.Options) {
			o.BaseEndpoint = &cfg.Endpoint
			o.UsePathStyle = true
		})
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, s3OptFns...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// key returns the full S3 object key for the given attachment reference.
func (s *S3Store) key(ref string) string {
	return s.prefix + ref
}

// Stat checks the object's existence and size via HeadObject.
func (s *S3Store) Stat(ctx context.Context, ref, _ string) (*FileInfo, error) {
	k := s.key(ref)
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &k,
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, unavailable(ref)
		}
		return nil, fmt.Errorf("s3 head %s: %w", ref, err)
	}

	info := &FileInfo{Key: ref}
	if out.ContentType != nil {
		info.ContentType = *out.ContentType
	}
	if out.ContentLength != nil {
		info.ContentLength = *out.ContentLength
	}
	return info, nil
}

// Download fetches the object bytes via GetObject.
func (s *S3Store) Download(ctx context.Context, ref, _ string) ([]byte, error) {
	k := s.key(ref)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &k,
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, unavailable(ref)
		}
		return nil, fmt.Errorf("s3 get %s: %w", ref, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read body %s: %w", ref, err)
	}
	return data, nil
}
