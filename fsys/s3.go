package fsys

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// S3Client serves s3:// bucket URLs. Paths are "bucket/key" without the scheme,
// mirroring how the local client reports absolute paths.
type S3Client struct {
	client *s3.Client
}

// NewS3Client builds an S3 client from static credentials. When no access key
// is supplied the default AWS credential chain is used instead.
func NewS3Client(creds *Credentials) (*S3Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(creds.AWSRegion),
	}
	if creds.AWSAccessKeyID != "" {
		provider := credentials.NewStaticCredentialsProvider(
			creds.AWSAccessKeyID, creds.AWSSecretAccessKey, creds.AWSSessionToken)
		opts = append(opts, awsconfig.WithCredentialsProvider(provider))
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.TODO(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return &S3Client{client: s3.NewFromConfig(cfg)}, nil
}

func (c *S3Client) Protocol() Protocol {
	return ProtocolS3
}

// Glob lists the bucket under the longest wildcard-free key prefix and matches
// every object key against the pattern. S3 has no real directories, so only
// file entries are reported.
func (c *S3Client) Glob(pattern string) (map[string]Entry, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, doublestar.ErrBadPattern)
	}

	bucket, keyPattern, found := strings.Cut(strings.TrimPrefix(pattern, "/"), "/")
	if !found || bucket == "" {
		return nil, fmt.Errorf("glob pattern %q does not name a bucket", pattern)
	}
	prefix := patternBase(keyPattern)
	if prefix == "." {
		prefix = ""
	}

	ret := make(map[string]Entry)
	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	paginator := s3.NewListObjectsV2Paginator(c.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(context.TODO())
		if err != nil {
			return nil, fmt.Errorf("failed to list bucket %q: %w", bucket, err)
		}
		for _, object := range page.Contents {
			key := aws.ToString(object.Key)
			matched, err := doublestar.Match(keyPattern, key)
			if err != nil {
				return nil, fmt.Errorf("matching %q against %q: %w", key, keyPattern, err)
			}
			if !matched {
				continue
			}
			ret[bucket+"/"+key] = Entry{
				Type: EntryTypeFile,
				Size: aws.ToInt64(object.Size),
				Meta: map[string]any{"LastModified": aws.ToTime(object.LastModified)},
			}
		}
	}
	log.Trace("s3 glob done", zap.String("bucket", bucket),
		zap.String("pattern", keyPattern), zap.Int("matches", len(ret)))
	return ret, nil
}

func (c *S3Client) Open(path string) (io.ReadCloser, error) {
	bucket, key, err := splitBucketKey(path)
	if err != nil {
		return nil, err
	}
	output, err := c.client.GetObject(context.TODO(), &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open s3 object %q: %w", path, err)
	}
	return output.Body, nil
}

func (c *S3Client) ReadBytes(path string) ([]byte, error) {
	body, err := c.Open(path)
	if err != nil {
		return nil, err
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			log.Error("failed to close s3 object body", zap.String("path", path), zap.Error(err))
		}
	}(body)

	content, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3 object %q: %w", path, err)
	}
	return content, nil
}

// splitBucketKey splits a "bucket/key" path into its bucket and key parts.
func splitBucketKey(path string) (string, string, error) {
	bucket, key, found := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if !found || bucket == "" || key == "" {
		return "", "", fmt.Errorf("path %q does not name a bucket and key", path)
	}
	return bucket, key, nil
}
