package staging

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/jobrunner/stratum/internal/domain"
)

const (
	keySeparator = "__"
	maxNameLen   = 128
)

// newRecord builds the record for a freshly received upload. The id is
// server-generated; the client filename is kept only in sanitized form.
func newRecord(filename string, kind domain.UploadKind) domain.UploadRecord {
	return domain.UploadRecord{
		ID:         uuid.NewString(),
		Filename:   sanitizeFilename(filename),
		Kind:       kind,
		ReceivedAt: time.Now().UTC(),
	}
}

// stagedKey encodes a record into the backend object key. The id and kind
// never contain the separator, so parseStagedKey can split unambiguously
// even when the filename does.
func stagedKey(rec domain.UploadRecord) string {
	return rec.ID + keySeparator + string(rec.Kind) + keySeparator + rec.Filename
}

// parseStagedKey recovers id, kind and filename from an object key.
func parseStagedKey(key string) (domain.UploadRecord, bool) {
	parts := strings.SplitN(key, keySeparator, 3)
	if len(parts) != 3 {
		return domain.UploadRecord{}, false
	}
	if _, err := uuid.Parse(parts[0]); err != nil {
		return domain.UploadRecord{}, false
	}
	kind, err := domain.ParseUploadKind(parts[1])
	if err != nil {
		return domain.UploadRecord{}, false
	}
	return domain.UploadRecord{
		ID:          parts[0],
		Filename:    parts[2],
		Kind:        kind,
		StoragePath: key,
	}, true
}

// sanitizeFilename reduces a client-supplied filename to a safe base name.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if len(out) > maxNameLen {
		out = out[len(out)-maxNameLen:]
	}
	if out == "" || out == "." || out == ".." {
		out = "upload"
	}
	return out
}

// validID reports whether id is a well-formed upload identifier.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// copyCeiling copies r into dst up to maxBytes and returns the number of
// bytes written. Streams longer than maxBytes fail with ErrUploadTooLarge;
// a full disk fails with ErrInsufficientStorage.
func copyCeiling(dst io.Writer, r io.Reader, maxBytes int64) (int64, error) {
	written, err := io.Copy(dst, io.LimitReader(r, maxBytes+1))
	if err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return written, fmt.Errorf("staging write: %w", domain.ErrInsufficientStorage)
		}
		return written, err
	}
	if written > maxBytes {
		return written, fmt.Errorf("stream exceeds %d bytes: %w", maxBytes, domain.ErrUploadTooLarge)
	}
	return written, nil
}
