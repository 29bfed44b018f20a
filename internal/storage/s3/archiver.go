// Package s3 archives closed incidents to S3 for cold retention.
package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync/atomic"
	"time"

	appconfig "storefront-triage/internal/config"
	"storefront-triage/internal/incident"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// putObjectAPI is the slice of the S3 client the archiver needs.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver writes closed incidents as gzipped JSON objects. The upload runs
// off the incident manager's lock; an upload failure is logged, never
// surfaced to the close path.
type Archiver struct {
	client putObjectAPI
	bucket string
	prefix string
	logger *slog.Logger

	archived atomic.Int64
	failed   atomic.Int64
}

// NewArchiver builds an archiver using the ambient AWS credential chain.
func NewArchiver(ctx context.Context, cfg appconfig.ArchiveConfig) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: archive bucket is required")
	}

	var opts []func(*awscfg.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awscfg.WithRegion(cfg.Region))
	}

	awsConfig, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load AWS config: %w", err)
	}

	return &Archiver{
		client: s3.NewFromConfig(awsConfig),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: slog.Default().With("component", "archiver"),
	}, nil
}

// newArchiverWithClient is used by tests to inject a fake S3 client.
func newArchiverWithClient(client putObjectAPI, bucket, prefix string) *Archiver {
	return &Archiver{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: slog.Default().With("component", "archiver"),
	}
}

// ArchiveIncident uploads one closed incident. Implements the incident
// manager's archiver hook.
func (a *Archiver) ArchiveIncident(inc incident.Incident) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := a.upload(ctx, inc); err != nil {
			a.failed.Add(1)
			a.logger.Error("failed to archive incident",
				"code", inc.Code, "error", err)
			return
		}
		a.archived.Add(1)
		a.logger.Info("incident archived", "code", inc.Code, "key", a.keyFor(inc))
	}()
}

func (a *Archiver) upload(ctx context.Context, inc incident.Incident) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(inc); err != nil {
		gz.Close()
		return fmt.Errorf("encode incident: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compress incident: %w", err)
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(a.keyFor(inc)),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// keyFor builds the object key, partitioned by close date.
func (a *Archiver) keyFor(inc incident.Incident) string {
	day := inc.UpdatedAt
	if inc.ClosedAt != nil {
		day = *inc.ClosedAt
	}
	return path.Join(a.prefix, day.UTC().Format("2006/01/02"), inc.Code+".json.gz")
}

// Stats returns archived and failed upload counts.
func (a *Archiver) Stats() (archived, failed int64) {
	return a.archived.Load(), a.failed.Load()
}
