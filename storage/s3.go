package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"apt_scrooper/config"
	"apt_scrooper/models"
)

// RawArchive writes the raw rows of each pass to S3-compatible storage
type RawArchive struct {
	client *s3.Client
	bucket string
}

type rawCapture struct {
	BuildingID string             `json:"building_id"`
	PassID     uuid.UUID          `json:"pass_id"`
	CapturedAt time.Time          `json:"captured_at"`
	Rows       []models.RawRecord `json:"rows"`
}

func NewRawArchive(ctx context.Context, cfg config.S3Config) (*RawArchive, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &RawArchive{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// ArchiveKey is raw/<building>/<yyyy-mm-dd>/<pass>.json
func ArchiveKey(buildingID string, passID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("raw/%s/%s/%s.json", buildingID, at.UTC().Format("2006-01-02"), passID)
}

// Put uploads one pass worth of raw rows and returns the object key
func (a *RawArchive) Put(ctx context.Context, buildingID string, passID uuid.UUID, at time.Time, rows []models.RawRecord) (string, error) {
	data, err := json.Marshal(rawCapture{
		BuildingID: buildingID,
		PassID:     passID,
		CapturedAt: at.UTC(),
		Rows:       rows,
	})
	if err != nil {
		return "", fmt.Errorf("marshal raw rows: %w", err)
	}

	key := ArchiveKey(buildingID, passID, at)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return key, nil
}
