package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// ArchiverConfig wires an Archiver.
type ArchiverConfig struct {
	Writer      domain.BlobWriter
	Reader      domain.BlobReader
	Settlements domain.SettlementStore
	// Audit is optional.
	Audit domain.AuditStore
	// MultipartThreshold switches to multipart upload above this many bytes.
	MultipartThreshold int64
	Logger             *slog.Logger
}

// Archiver moves settlements older than a cutoff to object storage as JSONL
// and then deletes them from the primary store. Rows are deleted only after
// the upload succeeds.
type Archiver struct {
	writer      domain.BlobWriter
	reader      domain.BlobReader
	settlements domain.SettlementStore
	audit       domain.AuditStore
	threshold   int64
	logger      *slog.Logger
}

var _ domain.Archiver = (*Archiver)(nil)

func NewArchiver(cfg ArchiverConfig) *Archiver {
	threshold := cfg.MultipartThreshold
	if threshold <= 0 {
		threshold = 4 * minPartSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		writer:      cfg.Writer,
		reader:      cfg.Reader,
		settlements: cfg.Settlements,
		audit:       cfg.Audit,
		threshold:   threshold,
		logger:      logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveSettlements uploads every settlement started before the cutoff and
// removes it from the store. It returns the number of rows archived.
func (a *Archiver) ArchiveSettlements(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.settlements.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements marshal: %w", err)
	}

	path, err := a.freePath(ctx, archivePath("settlements", before))
	if err != nil {
		return 0, err
	}
	if int64(len(buf)) > a.threshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements upload: %w", err)
	}

	deleted, err := a.settlements.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements delete: %w", err)
	}

	a.logger.InfoContext(ctx, "settlements archived",
		slog.String("path", path),
		slog.Int("uploaded", len(rows)),
		slog.Int64("deleted", deleted),
		slog.Int("bytes", len(buf)),
	)
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.settlements", map[string]any{
			"path":   path,
			"count":  len(rows),
			"before": before.Format(time.RFC3339),
		}); err != nil {
			a.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	return int64(len(rows)), nil
}

// freePath returns path, or path with a numeric suffix when an archive of
// the same cutoff already exists.
func (a *Archiver) freePath(ctx context.Context, path string) (string, error) {
	if a.reader == nil {
		return path, nil
	}
	base := path[:len(path)-len(".jsonl")]
	candidate := path
	for i := 1; ; i++ {
		exists, err := a.reader.Exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive settlements: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d.jsonl", base, i)
	}
}

// archivePath partitions archives by month of the cutoff, e.g.
// archive/settlements/2026-03/20260315T000000Z.jsonl.
func archivePath(kind string, before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, before.Format("2006-01"), before.Format("20060102T150405Z"))
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
