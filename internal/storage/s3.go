package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// deleteBatchSize is the maximum number of keys DeleteObjects accepts per
// call.
const deleteBatchSize = 1000

// S3Config configures the S3-compatible object store. Endpoint is left
// empty to target AWS S3 itself; set it (with PathStyle) to target MinIO
// or another S3-compatible provider.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	PathStyle       bool
}

// S3Store implements ObjectStore against an S3-compatible backend.
type S3Store struct {
	client     *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	bucket     string
}

// NewS3Store dials the configured S3-compatible endpoint and checks bucket
// access with HeadBucket. If that fails it tries CreateBucket, and returns
// an error only when the create fails as well.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	awsCfg := &aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(cfg.PathStyle)
	}
	if !cfg.UseSSL {
		awsCfg.DisableSSL = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create s3 session: %w", err)
	}

	client := s3.New(sess)
	if _, err := client.HeadBucket(&s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		if _, createErr := client.CreateBucket(&s3.CreateBucketInput{Bucket: aws.String(cfg.Bucket)}); createErr != nil {
			return nil, fmt.Errorf("bucket %s not accessible and could not be created: %w", cfg.Bucket, createErr)
		}
	}

	return &S3Store{
		client:     client,
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
		bucket:     cfg.Bucket,
	}, nil
}

func (s *S3Store) Upload(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	input := &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   data,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.UploadWithContext(ctx, input); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Download(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("download %s: %w", key, err)
	}
	size := int64(0)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head %s: %w", key, err)
	}
	return true, nil
}

func (s *S3Store) List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error) {
	var out []ObjectInfo
	var pageErr error

	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			out = append(out, ObjectInfo{
				Key:          aws.StringValue(obj.Key),
				SizeBytes:    aws.Int64Value(obj.Size),
				LastModified: aws.TimeValue(obj.LastModified),
			})
			if limit > 0 && len(out) >= limit {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	if pageErr != nil {
		return nil, pageErr
	}
	return out, nil
}

// DeletePrefix removes every object under prefix, paginating through
// listings and batching deletes in groups of up to 1000 keys per the S3
// DeleteObjects limit.
func (s *S3Store) DeletePrefix(ctx context.Context, prefix string) error {
	var batch []*s3.ObjectIdentifier
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := s.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3.Delete{Objects: batch, Quiet: aws.Bool(true)},
		})
		batch = batch[:0]
		if err != nil {
			return fmt.Errorf("delete batch under %s: %w", prefix, err)
		}
		return nil
	}

	var listErr error
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			batch = append(batch, &s3.ObjectIdentifier{Key: obj.Key})
			if len(batch) == deleteBatchSize {
				if err := flush(); err != nil {
					listErr = err
					return false
				}
			}
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("list %s for deletion: %w", prefix, err)
	}
	if listErr != nil {
		return listErr
	}
	return flush()
}

func (s *S3Store) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	url, err := req.Presign(ttl)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return url, nil
}

func isNotFound(err error) bool {
	return strings.Contains(err.Error(), s3.ErrCodeNoSuchKey) || strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "404")
}
