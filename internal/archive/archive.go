// Package archive ships raw messages that were flagged by policy off to
// cold storage, the way cc-backend's pkg/archive/parquet package ships
// finished job records to a file or S3 target.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Target abstracts the destination a flagged message is archived to.
type Target interface {
	Store(ctx context.Context, digest string, raw []byte) error
}

// FileTarget archives raw messages under a local directory, one file per
// digest.
type FileTarget struct {
	path string
}

// NewFileTarget creates a FileTarget rooted at path, creating it if needed.
func NewFileTarget(path string) (*FileTarget, error) {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("archive: create target directory: %w", err)
	}
	return &FileTarget{path: path}, nil
}

// Store writes raw to <path>/<digest>.eml.
func (ft *FileTarget) Store(_ context.Context, digest string, raw []byte) error {
	name := digest + ".eml"
	if err := os.WriteFile(filepath.Join(ft.path, name), raw, 0o640); err != nil {
		return fmt.Errorf("archive: writing %s: %w", name, err)
	}
	return nil
}

// S3TargetConfig configures an S3-compatible archive target.
type S3TargetConfig struct {
	Endpoint     string
	Bucket       string
	AccessKey    string
	SecretKey    string
	Region       string
	UsePathStyle bool
}

// S3Target archives raw messages to an S3-compatible object store, keyed
// by digest.
type S3Target struct {
	client *s3.Client
	bucket string
}

// NewS3Target builds an S3Target from cfg.
func NewS3Target(ctx context.Context, cfg S3TargetConfig) (*S3Target, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: S3 target: empty bucket name")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("archive: S3 target: load AWS config: %w", err)
	}

	opts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}

	client := s3.NewFromConfig(awsCfg, opts)
	return &S3Target{client: client, bucket: cfg.Bucket}, nil
}

// Store uploads raw as <digest>.eml.
func (st *S3Target) Store(ctx context.Context, digest string, raw []byte) error {
	key := digest + ".eml"
	_, err := st.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(st.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("message/rfc822"),
	})
	if err != nil {
		return fmt.Errorf("archive: S3 target: put object %q: %w", key, err)
	}
	return nil
}

// Entry is a flagged message archived alongside the time it was stored.
type Entry struct {
	Digest     string
	StoredAt   time.Time
	SourceSize int
}

// StoreFlagged archives raw under digest if target is non-nil, recording
// the resulting Entry. A nil target is a no-op, used when archiving is
// disabled.
func StoreFlagged(ctx context.Context, target Target, digest string, raw []byte) (*Entry, error) {
	if target == nil {
		return nil, nil
	}
	if err := target.Store(ctx, digest, raw); err != nil {
		return nil, err
	}
	return &Entry{Digest: digest, StoredAt: time.Now(), SourceSize: len(raw)}, nil
}
