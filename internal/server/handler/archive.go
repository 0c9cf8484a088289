package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

// ArchivePrefix is where the archiver writes settlement batches.
const ArchivePrefix = "archive/settlements/"

// ArchiveReader lists and opens archived settlement batches.
type ArchiveReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]domain.BlobInfo, error)
}

// ArchiveHandler serves settlements moved to object storage.
type ArchiveHandler struct {
	blobs  ArchiveReader
	logger *slog.Logger
}

func NewArchiveHandler(blobs ArchiveReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logHandler(logger, "archive")}
}

type archiveEntry struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// List handles GET /api/archive[?month=2026-03].
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	prefix := ArchivePrefix
	if month := strings.TrimSpace(r.URL.Query().Get("month")); month != "" {
		if _, err := time.Parse("2006-01", month); err != nil {
			writeDomainError(w, r, h.logger, fmt.Errorf("%w: month %q is not YYYY-MM", domain.ErrInput, month))
			return
		}
		prefix += month + "/"
	}
	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	entries := make([]archiveEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, archiveEntry{
			Name:         strings.TrimPrefix(info.Path, ArchivePrefix),
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": entries})
}

// Get handles GET /api/archive/{name...} and streams the JSONL batch.
func (h *ArchiveHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	clean := path.Clean("/" + name)[1:]
	if name == "" || clean != name || path.Ext(name) != ".jsonl" {
		writeDomainError(w, r, h.logger, fmt.Errorf("%w: archive name %q", domain.ErrInput, name))
		return
	}
	body, err := h.blobs.Get(r.Context(), ArchivePrefix+name)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive stream interrupted",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
	}
}
