package staging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

var _ output.StagingStore = (*S3Staging)(nil)

// S3Staging implements StagingStore on AWS S3.
type S3Staging struct {
	client   *s3.Client
	bucket   string
	prefix   string
	maxBytes int64
}

// S3Config holds S3 staging configuration.
type S3Config struct {
	Bucket          string
	Region          string
	Prefix          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	MaxBytes        int64
}

// NewS3Staging creates a new S3 staging adapter.
func NewS3Staging(ctx context.Context, cfg S3Config) (*S3Staging, error) {
	var opts []func(*config.LoadOptions) error

	opts = append(opts, config.WithRegion(cfg.Region))

	// Use explicit credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)

	return &S3Staging{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		maxBytes: cfg.MaxBytes,
	}, nil
}

// Stage spools the stream to a local temp file to enforce the size ceiling,
// then uploads it as a single object.
func (s *S3Staging) Stage(ctx context.Context, filename string, kind domain.UploadKind, r io.Reader) (domain.UploadRecord, error) {
	rec := newRecord(filename, kind)
	rec.StoragePath = stagedKey(rec)

	tmp, err := os.CreateTemp("", "stratum-stage-*")
	if err != nil {
		return domain.UploadRecord{}, &domain.StorageError{Operation: "stage", Key: rec.Filename, Err: err}
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	written, err := copyCeiling(tmp, r, s.maxBytes)
	if err != nil {
		return domain.UploadRecord{}, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return domain.UploadRecord{}, &domain.StorageError{Operation: "stage", Key: rec.Filename, Err: err}
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.fullKey(rec.StoragePath)),
		Body:          tmp,
		ContentLength: aws.Int64(written),
	})
	if err != nil {
		return domain.UploadRecord{}, &domain.StorageError{Operation: "stage", Key: rec.Filename, Err: err}
	}

	rec.SizeBytes = written
	return rec, nil
}

// Get returns the record of a staged upload.
func (s *S3Staging) Get(ctx context.Context, id string) (domain.UploadRecord, error) {
	if !validID(id) {
		return domain.UploadRecord{}, fmt.Errorf("id %q: %w", id, domain.ErrUploadNotFound)
	}

	resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.fullKey(id + keySeparator)),
	})
	if err != nil {
		return domain.UploadRecord{}, &domain.StorageError{Operation: "get", Key: id, Err: err}
	}

	for _, obj := range resp.Contents {
		key := aws.ToString(obj.Key)

		// Remove prefix from key
		relKey := strings.TrimPrefix(key, s.prefix)
		relKey = strings.TrimPrefix(relKey, "/")

		rec, ok := parseStagedKey(relKey)
		if !ok {
			continue
		}
		rec.SizeBytes = aws.ToInt64(obj.Size)
		if obj.LastModified != nil {
			rec.ReceivedAt = obj.LastModified.UTC()
		}
		return rec, nil
	}

	return domain.UploadRecord{}, fmt.Errorf("id %q: %w", id, domain.ErrUploadNotFound)
}

// Materialize downloads the staged object to a temp file. The cleanup
// removes the local copy only, never the staged object.
func (s *S3Staging) Materialize(ctx context.Context, id string) (string, func(), error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(rec.StoragePath)),
	})
	if err != nil {
		return "", nil, &domain.StorageError{Operation: "materialize", Key: id, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	return materializeToTemp(rec, resp.Body)
}

// Remove deletes a staged upload.
func (s *S3Staging) Remove(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(rec.StoragePath)),
	})
	if err != nil {
		return &domain.StorageError{Operation: "remove", Key: id, Err: err}
	}
	return nil
}

// fullKey returns the full S3 key including prefix.
func (s *S3Staging) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// materializeToTemp writes a remote staged object to a local temp file,
// keeping the original extension so downstream readers see a familiar name.
func materializeToTemp(rec domain.UploadRecord, body io.Reader) (string, func(), error) {
	ext := filepath.Ext(rec.Filename)
	f, err := os.CreateTemp("", "stratum-ingest-*"+ext)
	if err != nil {
		return "", nil, &domain.StorageError{Operation: "materialize", Key: rec.ID, Err: err}
	}

	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", nil, &domain.StorageError{Operation: "materialize", Key: rec.ID, Err: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", nil, &domain.StorageError{Operation: "materialize", Key: rec.ID, Err: err}
	}

	path := f.Name()
	return path, func() { _ = os.Remove(path) }, nil
}
