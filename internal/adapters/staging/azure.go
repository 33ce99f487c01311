package staging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

var _ output.StagingStore = (*AzureStaging)(nil)

// AzureStaging implements StagingStore on Azure Blob Storage.
type AzureStaging struct {
	client    *azblob.Client
	container string
	prefix    string
	maxBytes  int64
}

// AzureConfig holds Azure Blob staging configuration.
type AzureConfig struct {
	Container        string
	AccountName      string
	AccountKey       string
	ConnectionString string
	Prefix           string
	MaxBytes         int64
}

// NewAzureStaging creates a new Azure Blob staging adapter.
func NewAzureStaging(cfg AzureConfig) (*AzureStaging, error) {
	var client *azblob.Client
	var err error

	if cfg.ConnectionString != "" {
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	} else {
		url := "https://" + cfg.AccountName + ".blob.core.windows.net/"
		cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err != nil {
			return nil, err
		}
		client, err = azblob.NewClientWithSharedKeyCredential(url, cred, nil)
		if err != nil {
			return nil, err
		}
	}

	if err != nil {
		return nil, err
	}

	return &AzureStaging{
		client:    client,
		container: cfg.Container,
		prefix:    cfg.Prefix,
		maxBytes:  cfg.MaxBytes,
	}, nil
}

// Stage spools the stream to a local temp file to enforce the size ceiling,
// then uploads it as a single blob.
func (s *AzureStaging) Stage(ctx context.Context, filename string, kind domain.UploadKind, r io.Reader) (domain.UploadRecord, error) {
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

	if _, err := s.client.UploadFile(ctx, s.container, s.fullKey(rec.StoragePath), tmp, nil); err != nil {
		return domain.UploadRecord{}, &domain.StorageError{Operation: "stage", Key: rec.Filename, Err: err}
	}

	rec.SizeBytes = written
	return rec, nil
}

// Get returns the record of a staged upload.
func (s *AzureStaging) Get(ctx context.Context, id string) (domain.UploadRecord, error) {
	if !validID(id) {
		return domain.UploadRecord{}, fmt.Errorf("id %q: %w", id, domain.ErrUploadNotFound)
	}

	prefix := s.fullKey(id + keySeparator)
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return domain.UploadRecord{}, &domain.StorageError{Operation: "get", Key: id, Err: err}
		}

		for _, blob := range page.Segment.BlobItems {
			name := *blob.Name

			// Remove prefix from key
			relKey := strings.TrimPrefix(name, s.prefix)
			relKey = strings.TrimPrefix(relKey, "/")

			rec, ok := parseStagedKey(relKey)
			if !ok {
				continue
			}
			if blob.Properties != nil {
				if blob.Properties.ContentLength != nil {
					rec.SizeBytes = *blob.Properties.ContentLength
				}
				if blob.Properties.LastModified != nil {
					rec.ReceivedAt = blob.Properties.LastModified.UTC()
				}
			}
			return rec, nil
		}
	}

	return domain.UploadRecord{}, fmt.Errorf("id %q: %w", id, domain.ErrUploadNotFound)
}

// Materialize downloads the staged blob to a temp file. The cleanup removes
// the local copy only, never the staged blob.
func (s *AzureStaging) Materialize(ctx context.Context, id string) (string, func(), error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}

	resp, err := s.client.DownloadStream(ctx, s.container, s.fullKey(rec.StoragePath), nil)
	if err != nil {
		return "", nil, &domain.StorageError{Operation: "materialize", Key: id, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	return materializeToTemp(rec, resp.Body)
}

// Remove deletes a staged upload.
func (s *AzureStaging) Remove(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteBlob(ctx, s.container, s.fullKey(rec.StoragePath), nil); err != nil {
		return &domain.StorageError{Operation: "remove", Key: id, Err: err}
	}
	return nil
}

// fullKey returns the full blob name including prefix.
func (s *AzureStaging) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}
