// Package storage mirrors job output artifacts and dataset samples to an
// optional S3-compatible bucket (Tigris, MinIO, or AWS S3). It is
// disabled by default; when disabled every method is a silent no-op so
// callers never need to branch on configuration.
package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/jmylchreest/soundmaxx-worker/internal/config"
)

// Mirror uploads output artifacts and dataset samples to object storage
// when configured.
type Mirror struct {
	client  *s3.Client
	bucket  string
	enabled bool
}

// New builds a Mirror. When cfg.StorageS3Enabled is false it returns a
// disabled Mirror rather than an error.
func New(ctx context.Context, cfg *appconfig.Config) (*Mirror, error) {
	if !cfg.StorageS3Enabled {
		return &Mirror{enabled: false}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.StorageS3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.StorageS3AccessKeyID,
			cfg.StorageS3SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.StorageS3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.StorageS3Endpoint)
		}
		o.UsePathStyle = true
	})

	return &Mirror{client: client, bucket: cfg.StorageS3Bucket, enabled: true}, nil
}

// Enabled reports whether mirroring is switched on (STORAGE_S3_ENABLED);
// the bucket name is not checked.
func (m *Mirror) Enabled() bool {
	return m.enabled
}

// MirrorArtifact uploads one job output file to
// outputs/<jobId>/<filename>. A no-op when disabled.
func (m *Mirror) MirrorArtifact(ctx context.Context, jobID, path string) error {
	if !m.enabled {
		return nil
	}
	return m.putFile(ctx, fmt.Sprintf("outputs/%s/%s", jobID, baseName(path)), path)
}

// MirrorSample uploads one dataset sample file to
// dataset/<sampleId>/<filename>. A no-op when disabled.
func (m *Mirror) MirrorSample(ctx context.Context, sampleID, path string) error {
	if !m.enabled {
		return nil
	}
	return m.putFile(ctx, fmt.Sprintf("dataset/%s/%s", sampleID, baseName(path)), path)
}

func (m *Mirror) putFile(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("storage: open %s: %w", path, err)
	}
	defer f.Close()

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	return nil
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}
