package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bbscout/dbbackup/internal/domain"
)

// S3Options mirrors the keys of an rclone "s3" remote. Empty keys fall back
// to the SDK's default credential chain.
type S3Options struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
	// Endpoint selects an S3-compatible service (MinIO, R2, Wasabi) and
	// switches to path-style addressing.
	Endpoint string
}

// S3Storage treats the first segment of the destination directory as the
// bucket and the rest as a key prefix, the way rclone addresses s3 remotes.
type S3Storage struct {
	client   *s3.Client
	uploader *s3manager.Uploader
}

// NewS3 creates a new S3Storage instance using AWS SDK v2
func NewS3(ctx context.Context, opts S3Options) (*S3Storage, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Storage{
		client:   client,
		uploader: s3manager.NewUploader(client),
	}, nil
}

// EnsureDir creates the bucket when it is missing. Prefixes need no creation.
func (s *S3Storage) EnsureDir(ctx context.Context, dest domain.Destination) error {
	bucket, _, err := splitBucket(dest.Dir)
	if err != nil {
		return err
	}

	_, err = s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

// Upload uploads a local file to S3
func (s *S3Storage) Upload(ctx context.Context, localPath string, dest domain.Destination, name string) error {
	bucket, prefix, err := splitBucket(dest.Dir)
	if err != nil {
		return err
	}

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(path.Join(prefix, name)),
		Body:        file,
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	return nil
}

// List returns the object names directly under the destination prefix.
func (s *S3Storage) List(ctx context.Context, dest domain.Destination) ([]string, error) {
	bucket, prefix, err := splitBucket(dest.Dir)
	if err != nil {
		return nil, err
	}
	if prefix != "" {
		prefix += "/"
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var files []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if isNotFound(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to list S3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name != "" {
				files = append(files, name)
			}
		}
	}

	return files, nil
}

// Delete removes a file from S3
func (s *S3Storage) Delete(ctx context.Context, dest domain.Destination, name string) error {
	bucket, prefix, err := splitBucket(dest.Dir)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path.Join(prefix, name)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}

	return nil
}

func splitBucket(dir string) (bucket, prefix string, err error) {
	dir = strings.Trim(dir, "/")
	if dir == "" {
		return "", "", errors.New("s3 destination needs a bucket as the first path segment")
	}
	bucket, prefix, _ = strings.Cut(dir, "/")
	return bucket, prefix, nil
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noBucket *types.NoSuchBucket
	if errors.As(err, &notFound) || errors.As(err, &noBucket) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}
