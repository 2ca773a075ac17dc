package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

const (
	archivePageSize = 500
	jsonlType       = "application/x-ndjson"

	// Archives above this size go through the multipart uploader.
	multipartThreshold = 8 << 20
	multipartPartSize  = 8 << 20
)

// Archiver copies audit history (marketplace events and anything else the
// audit log holds) older than a cutoff into monthly JSONL objects. Rows are
// never deleted from the primary store here.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	logger *slog.Logger

	multipartAbove int
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),

		multipartAbove: multipartThreshold,
	}
}

// ArchiveEvents writes every audit entry created before the cutoff to
// archive/events/YYYY-MM.jsonl (the cutoff's month) and returns how many
// were written. A month that already has an object is left alone.
func (a *Archiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	key := archivePath("events", before)
	exists, err := a.reader.Exists(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events: %w", err)
	}
	if exists {
		a.logger.DebugContext(ctx, "archiver: already archived", slog.String("path", key))
		return 0, nil
	}

	var entries []domain.AuditEntry
	for offset := 0; ; offset += archivePageSize {
		page, err := a.audit.List(ctx, domain.ListOpts{Until: &before, Limit: archivePageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive events query: %w", err)
		}
		entries = append(entries, page...)
		if len(page) < archivePageSize {
			break
		}
	}
	if len(entries) == 0 {
		return 0, nil
	}

	// Oldest first in the file.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}
	if len(buf) > a.multipartAbove {
		err = a.writer.PutMultipart(ctx, key, bytes.NewReader(buf), multipartPartSize)
	} else {
		err = a.writer.Put(ctx, key, bytes.NewReader(buf), jsonlType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	count := int64(len(entries))
	a.logger.InfoContext(ctx, "archiver: events archived",
		slog.String("path", key),
		slog.Int64("count", count),
	)
	if err := a.audit.Log(ctx, "archive.events", map[string]any{
		"path":   key,
		"count":  count,
		"before": before.UTC().Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive events audit: %w", err)
	}
	return count, nil
}

// Months lists the archived months ("2006-01"), oldest first.
func (a *Archiver) Months(ctx context.Context) ([]string, error) {
	infos, err := a.reader.List(ctx, "archive/events/")
	if err != nil {
		return nil, fmt.Errorf("s3blob: list archives: %w", err)
	}
	months := make([]string, 0, len(infos))
	for _, info := range infos {
		name := path.Base(info.Path)
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		months = append(months, strings.TrimSuffix(name, ".jsonl"))
	}
	sort.Strings(months)
	return months, nil
}

// Load reads back one archived month. A month that was never archived is
// domain.ErrNotFound.
func (a *Archiver) Load(ctx context.Context, month string) ([]domain.AuditEntry, error) {
	at, err := time.Parse("2006-01", month)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load archive: %w: month must be YYYY-MM", domain.ErrValidation)
	}
	body, err := a.reader.Get(ctx, archivePath("events", at))
	if err != nil {
		return nil, fmt.Errorf("s3blob: load archive %s: %w", month, err)
	}
	defer body.Close()

	var entries []domain.AuditEntry
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var line archiveLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			return nil, fmt.Errorf("s3blob: load archive %s line %d: %w", month, len(entries)+1, err)
		}
		entries = append(entries, domain.AuditEntry{
			ID:        line.ID,
			Event:     line.Event,
			Detail:    line.Detail,
			CreatedAt: line.CreatedAt,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: load archive %s: %w", month, err)
	}
	return entries, nil
}

type archiveLine struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

func marshalJSONL(entries []domain.AuditEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, e := range entries {
		if err := enc.Encode(archiveLine{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt}); err != nil {
			return nil, fmt.Errorf("jsonl line %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
