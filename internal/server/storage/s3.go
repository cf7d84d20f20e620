package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config selects an S3-compatible bucket.
type S3Config struct {
	Region         string
	Endpoint       string // empty for AWS, set for MinIO / R2 / Wasabi
	Bucket         string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

// S3Store implements BlobStore on an S3-compatible bucket with presigned
// GET URLs.
type S3Store struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	httpClient    *http.Client
	bucket        string
}

var _ BlobStore = (*S3Store)(nil)

// NewS3Store builds the S3 client. Static credentials are used when both
// keys are set, otherwise the default AWS credential chain applies.
func NewS3Store(ctx context.Context, cfg S3Config, httpClient *http.Client) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}

	return &S3Store{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		httpClient:    httpClient,
		bucket:        cfg.Bucket,
	}, nil
}

// Put uploads an object. Non-seekable readers are buffered first so the
// SDK can sign the payload.
func (s *S3Store) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string, metadata map[string]string) error {
	body, ok := data.(io.ReadSeeker)
	if !ok {
		buf, err := io.ReadAll(data)
		if err != nil {
			return fmt.Errorf("failed to read object body: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
		Metadata:      metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}

// SignedURL presigns a GET for key.
func (s *S3Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign get object: %w", err)
	}
	return req.URL, nil
}

// Open fetches a presigned URL whose path ends in key.
func (s *S3Store) Open(ctx context.Context, key, signedURL string) (io.ReadCloser, error) {
	u, err := url.Parse(signedURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !strings.HasSuffix(u.Path, "/"+key) {
		return nil, fmt.Errorf("%w: url was issued for another object", ErrInvalidURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch object: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.Body, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrBlobNotFound
	case resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, ErrInvalidURL
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch object: unexpected status %d", resp.StatusCode)
	}
}

// Delete removes an object. S3 deletes of missing keys succeed.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}
