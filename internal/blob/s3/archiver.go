package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
)

// multipartThreshold switches uploads to the multipart manager.
const multipartThreshold = 16 * 1024 * 1024

// ActivityArchiver implements domain.Archiver: activity rows older than a
// cutoff are written to one JSONL object per cutoff day and then removed from
// the index. An object that already exists is not rewritten, so a run that
// failed after uploading only finishes the delete.
type ActivityArchiver struct {
	writer   domain.BlobWriter
	reader   domain.BlobReader
	activity domain.ActivityStore
	logger   *slog.Logger
}

// NewArchiver creates an ActivityArchiver.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, activity domain.ActivityStore, logger *slog.Logger) *ActivityArchiver {
	return &ActivityArchiver{
		writer:   writer,
		reader:   reader,
		activity: activity,
		logger:   logger.With(slog.String("component", "activity_archiver")),
	}
}

// ArchiveActivity archives and deletes every activity row created before the
// cutoff and returns the number of rows removed.
func (a *ActivityArchiver) ArchiveActivity(ctx context.Context, before time.Time) (int64, error) {
	path := ArchivePath("activity", before)

	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive activity: %w", err)
	}

	if !exists {
		entries, err := a.activity.ListBefore(ctx, before)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive activity query: %w", err)
		}
		if len(entries) == 0 {
			return 0, nil
		}

		buf, err := marshalJSONL(entries)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive activity marshal: %w", err)
		}
		if len(buf) > multipartThreshold {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
		}
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive activity upload: %w", err)
		}
		a.logger.InfoContext(ctx, "activity archived",
			slog.String("path", path),
			slog.Int("rows", len(entries)),
		)
	} else {
		a.logger.InfoContext(ctx, "activity archive exists, finishing delete", slog.String("path", path))
	}

	deleted, err := a.activity.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive activity delete: %w", err)
	}

	if err := a.activity.Log(ctx, "", "activity_archived", map[string]any{
		"path":    path,
		"deleted": deleted,
		"before":  before.Format(time.RFC3339),
	}); err != nil {
		return deleted, fmt.Errorf("s3blob: archive activity log: %w", err)
	}
	return deleted, nil
}

// ArchivePath is the object key for an archive of kind cut off at before,
// partitioned by UTC day.
func ArchivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ActivityArchiver)(nil)
