package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
)

// ObjectWriter stores a blob under a key. storage.S3Storage implements it.
type ObjectWriter interface {
	Put(ctx context.Context, key string, reader io.Reader, contentType string) error
}

// ArchiveSink copies every audit record to object storage as one JSON
// document, partitioned by day.
type ArchiveSink struct {
	objects ObjectWriter
	prefix  string
}

// NewArchiveSink creates an archive writer
func NewArchiveSink(objects ObjectWriter, prefix string) *ArchiveSink {
	return &ArchiveSink{objects: objects, prefix: prefix}
}

func (a *ArchiveSink) Write(ctx context.Context, rec *Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	if err := a.objects.Put(ctx, a.Key(rec), bytes.NewReader(body), "application/json"); err != nil {
		return fmt.Errorf("archive audit record: %w", err)
	}
	return nil
}

// Key returns the object key of rec
func (a *ArchiveSink) Key(rec *Record) string {
	t := rec.CreatedAt.UTC()
	return path.Join(a.prefix, t.Format("2006/01/02"), rec.EntityType, rec.ID.String()+".json")
}
