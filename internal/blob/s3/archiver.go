package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/alanyoungcy/moonbot/internal/domain"
)

// ReportArchiver stores wallet-audit reports as JSON objects keyed by date.
type ReportArchiver struct {
	writer domain.BlobWriter
	prefix string
}

// NewReportArchiver writes under prefix (for example "audits/prod").
func NewReportArchiver(writer domain.BlobWriter, prefix string) *ReportArchiver {
	return &ReportArchiver{writer: writer, prefix: prefix}
}

// Key is the object key of a report: <prefix>/YYYY/MM/DD/<unix>-<id>.json.
func (a *ReportArchiver) Key(r domain.AuditReport) string {
	at := r.At.UTC()
	return path.Join(a.prefix, at.Format("2006/01/02"), fmt.Sprintf("%d-%s.json", at.Unix(), r.ID))
}

// Archive uploads the report and returns its key.
func (a *ReportArchiver) Archive(ctx context.Context, r domain.AuditReport) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal report %s: %w", r.ID, err)
	}
	key := a.Key(r)
	if err := a.writer.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return "", err
	}
	return key, nil
}
