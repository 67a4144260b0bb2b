package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"sherlog-detector/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

const (
	DefaultS3Timeout    = 5 * time.Second
	DefaultS3Retries    = 3
	initialBackoff      = 200 * time.Millisecond
	maxBackoff          = 2 * time.Second
	evidenceContentType = "application/x-ndjson"
)

// Putter is the part of the S3 client the uploader needs
type Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config says where evidence is uploaded
type S3Config struct {
	Bucket  string
	Prefix  string
	Region  string
	Timeout time.Duration
	Retries int
}

func (c *S3Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultS3Timeout
	}
	if c.Retries <= 0 {
		c.Retries = DefaultS3Retries
	}
}

// S3Uploader ships evidence to S3 with application-level retries
type S3Uploader struct {
	cfg     S3Config
	client  Putter
	backoff time.Duration
	logger  *logrus.Logger
}

// NewS3Uploader loads the default AWS credential chain for the configured region.
// SDK retries are disabled; the uploader retries itself.
func NewS3Uploader(ctx context.Context, cfg S3Config, logger *logrus.Logger) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
	})
	return NewS3UploaderWithClient(client, cfg, logger), nil
}

func NewS3UploaderWithClient(client Putter, cfg S3Config, logger *logrus.Logger) *S3Uploader {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg.setDefaults()
	return &S3Uploader{
		cfg:     cfg,
		client:  client,
		backoff: initialBackoff,
		logger:  logger,
	}
}

// EvidenceKey places a report under prefix/yyyy/mm/dd/<id>.jsonl.gz
func (u *S3Uploader) EvidenceKey(report *model.BatchReport) string {
	day := report.StartedAt.UTC().Format("2006/01/02")
	return path.Join(u.cfg.Prefix, day, report.ID+".jsonl.gz")
}

// UploadEvidence uploads the report's evidence rows and returns the object key
func (u *S3Uploader) UploadEvidence(ctx context.Context, report *model.BatchReport) (string, error) {
	body, err := EncodeEvidenceJSONLGZ(report.Evidence)
	if err != nil {
		return "", err
	}
	key := u.EvidenceKey(report)
	if err := u.UploadBytes(ctx, key, body); err != nil {
		return "", fmt.Errorf("failed to upload evidence to s3://%s/%s: %w", u.cfg.Bucket, key, err)
	}
	u.logger.Infof("Uploaded %d evidence rows to s3://%s/%s", len(report.Evidence), u.cfg.Bucket, key)
	return key, nil
}

// UploadBytes puts body under key, retrying with exponential backoff until
// the attempts run out or ctx is done
func (u *S3Uploader) UploadBytes(ctx context.Context, key string, body []byte) error {
	var lastErr error
	backoff := u.backoff

	for attempt := 1; attempt <= u.cfg.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := u.putObject(ctx, key, body); err == nil {
			return nil
		} else {
			lastErr = err
			u.logger.Warnf("S3 upload attempt %d/%d for %s failed: %v", attempt, u.cfg.Retries, key, err)
		}

		if attempt == u.cfg.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
	return lastErr
}

func (u *S3Uploader) putObject(ctx context.Context, key string, body []byte) error {
	ctx2, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	_, err := u.client.PutObject(ctx2, &s3.PutObjectInput{
		Bucket:          aws.String(u.cfg.Bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentLength:   aws.Int64(int64(len(body))),
		ContentType:     aws.String(evidenceContentType),
		ContentEncoding: aws.String("gzip"),
	})
	return err
}
