package blob

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type S3Backend struct {
	s3Client    *s3.Client
	s3Presigner *s3.PresignClient
	config      *S3Config
}

func NewS3Backend(s3Client *s3.Client, cfg *S3Config) *S3Backend {
	return &S3Backend{
		s3Client:    s3Client,
		s3Presigner: s3.NewPresignClient(s3Client),
		config:      cfg,
	}
}

// NewS3BackendWithConfig validates the profile and builds an S3 client for it
func NewS3BackendWithConfig(ctx context.Context, cfg *S3Config) (*S3Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
		Timeout: 30 * time.Second,
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
		config.WithRegion(cfg.region()),
		config.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewS3Backend(newS3Client(awsCfg, cfg), cfg), nil
}

func newS3Client(awsCfg aws.Config, cfg *S3Config) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.EndpointURL())
		o.UsePathStyle = true
		// S3 compatible stores reject presigned PUTs that carry SDK checksum params
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
}

func (s *S3Backend) PresignPutObject(ctx context.Context, key, contentType string, expires time.Duration) (string, error) {
	req, err := s.s3Presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.config.BucketName,
		Key:         &key,
		ContentType: aws.String(contentType),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

func (s *S3Backend) PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int32, expires time.Duration) (string, error) {
	req, err := s.s3Presigner.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     &s.config.BucketName,
		Key:        &key,
		UploadId:   &uploadID,
		PartNumber: aws.Int32(partNumber),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

func (s *S3Backend) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	result, err := s.s3Client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      &s.config.BucketName,
		Key:         &key,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(result.UploadId), nil
}

func (s *S3Backend) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) error {
	completedParts := make([]types.CompletedPart, len(parts))
	for i, part := range parts {
		completedParts[i] = types.CompletedPart{
			ETag:       aws.String(part.ETag),
			PartNumber: aws.Int32(part.PartNumber),
		}
	}

	_, err := s.s3Client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   &s.config.BucketName,
		Key:      &key,
		UploadId: &uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completedParts,
		},
	})
	return err
}

func (s *S3Backend) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	_, err := s.s3Client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   &s.config.BucketName,
		Key:      &key,
		UploadId: &uploadID,
	})
	return err
}

var _ Backend = (*S3Backend)(nil)
