// Package s3 reads and publishes license snapshots in S3-compatible object
// storage. Field units that cannot reach the database still get a license
// list through the CDN-fronted bucket.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/logging"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/metrics"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/remote"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/models"
)

const sourceName = "s3"

// Config configures the snapshot bucket.
type Config struct {
	Endpoint  string
	Bucket    string
	Key       string
	AccessKey string
	SecretKey string
	Region    string
}

// Snapshot is the object layout.
type Snapshot struct {
	GeneratedAt time.Time               `json:"generatedAt"`
	Licenses    []models.OfflineLicense `json:"licenses"`
}

// SnapshotSource serves licenses from a snapshot object.
type SnapshotSource struct {
	client *s3.Client
	bucket string
	key    string
}

var _ remote.LicenseSource = (*SnapshotSource)(nil)

// New creates a snapshot source.
func New(ctx context.Context, cfg Config) (*SnapshotSource, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Key == "" {
		cfg.Key = "licenses/latest.json"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &SnapshotSource{client: client, bucket: cfg.Bucket, key: cfg.Key}, nil
}

// Fetch downloads and decodes the snapshot.
func (s *SnapshotSource) Fetch(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		metrics.RecordRemoteRequest(sourceName, "licenses", 0, time.Since(start))
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("snapshot %s: %w", s.key, remote.ErrNotFound)
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	metrics.RecordRemoteRequest(sourceName, "licenses", 200, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	for i := range snap.Licenses {
		snap.Licenses[i].DocumentNumber = models.NormalizeDocument(snap.Licenses[i].DocumentNumber)
	}
	return &snap, nil
}

// ListLicenses returns every license in the snapshot.
func (s *SnapshotSource) ListLicenses(ctx context.Context) ([]models.OfflineLicense, error) {
	snap, err := s.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	logging.Debug("license snapshot fetched",
		zap.Time("generated_at", snap.GeneratedAt),
		zap.Int("count", len(snap.Licenses)))
	return snap.Licenses, nil
}

// LicenseByCPF scans the snapshot for one document number.
func (s *SnapshotSource) LicenseByCPF(ctx context.Context, cpf string) (*models.OfflineLicense, error) {
	licenses, err := s.ListLicenses(ctx)
	if err != nil {
		return nil, err
	}
	doc := models.NormalizeDocument(cpf)
	for i := range licenses {
		if licenses[i].DocumentNumber == doc {
			return &licenses[i], nil
		}
	}
	return nil, remote.ErrNotFound
}

// Publish uploads a fresh snapshot built from licenses.
func (s *SnapshotSource) Publish(ctx context.Context, licenses []models.OfflineLicense, now time.Time) error {
	data, err := json.Marshal(Snapshot{GeneratedAt: now.UTC(), Licenses: licenses})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	start := time.Now()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		metrics.RecordRemoteRequest(sourceName, "licenses_publish", 0, time.Since(start))
		return fmt.Errorf("put snapshot: %w", err)
	}
	metrics.RecordRemoteRequest(sourceName, "licenses_publish", 200, time.Since(start))

	logging.Info("License snapshot published",
		zap.String("bucket", s.bucket),
		zap.String("key", s.key),
		zap.Int("count", len(licenses)))
	return nil
}
