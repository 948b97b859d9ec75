package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/flowline-ai/flowline/internal/domain/models"
	"github.com/flowline-ai/flowline/internal/pkg/config"
)

// Archiver offloads full context snapshots to object storage when the
// database row only keeps a pruned copy. The returned ref goes into
// workflow_executions.snapshot_ref.
type Archiver interface {
	Store(ctx context.Context, executionID uuid.UUID, snapshot models.JSON) (ref string, err error)
	Load(ctx context.Context, ref string) (models.JSON, error)
}

type S3Archiver struct {
	client *s3.Client
	bucket string
}

func NewS3Archiver(ctx context.Context, cfg *config.ArchiveConfig) (*S3Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &S3Archiver{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
	}, nil
}

func (a *S3Archiver) key(executionID uuid.UUID) string {
	return fmt.Sprintf("snapshots/%s/%s.json", time.Now().UTC().Format("2006/01/02"), executionID)
}

func (a *S3Archiver) Store(ctx context.Context, executionID uuid.UUID, snapshot models.JSON) (string, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := a.key(executionID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

func (a *S3Archiver) Load(ctx context.Context, ref string) (models.JSON, error) {
	bucket, key, err := splitRef(ref)
	if err != nil {
		return nil, err
	}

	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	defer out.Body.Close()

	var snapshot models.JSON
	if err := json.NewDecoder(out.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snapshot, nil
}

func splitRef(ref string) (bucket, key string, err error) {
	const scheme = "s3://"
	if len(ref) <= len(scheme) || ref[:len(scheme)] != scheme {
		return "", "", fmt.Errorf("invalid snapshot ref %q", ref)
	}
	rest := ref[len(scheme):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("invalid snapshot ref %q", ref)
}
