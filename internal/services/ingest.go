package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	ContentTypePDF  = "application/pdf"
	ContentTypeText = "text/plain"
)

// Extractor turns raw document bytes of a supported content type into text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (string, error)
}

type IngestResult struct {
	ContentType string
	Text        string
	// Message is the chat turn that carries the document.
	Message string
}

// DocumentIngestor gates uploads by file extension and hands supported
// files to an Extractor.
type DocumentIngestor struct {
	extractor Extractor
	maxBytes  int64
}

func NewDocumentIngestor(extractor Extractor, maxBytes int64) *DocumentIngestor {
	return &DocumentIngestor{extractor: extractor, maxBytes: maxBytes}
}

// ContentTypeFor maps a file name to the content type sent to the
// extraction service. Only .pdf and .txt are supported.
func ContentTypeFor(name string) (string, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return ContentTypePDF, true
	case ".txt":
		return ContentTypeText, true
	default:
		return "", false
	}
}

// Ingest never calls the extractor for an unsupported or oversized file.
func (d *DocumentIngestor) Ingest(ctx context.Context, data []byte, name string) (*IngestResult, error) {
	contentType, ok := ContentTypeFor(name)
	if !ok {
		ext := strings.ToLower(filepath.Ext(name))
		if ext == "" {
			ext = "no extension"
		}
		return nil, &IngestionError{
			Message: fmt.Sprintf("Unsupported type (%s). Please upload a PDF or TXT file.", ext),
		}
	}
	if d.maxBytes > 0 && int64(len(data)) > d.maxBytes {
		return nil, &IngestionError{
			Message: fmt.Sprintf("File %s is too large (limit %d MB).", name, d.maxBytes>>20),
		}
	}

	text, err := d.extractor.Extract(ctx, data, contentType)
	if err != nil {
		return nil, &IngestionError{Message: "Failed to process document " + name, Err: err}
	}

	return &IngestResult{
		ContentType: contentType,
		Text:        text,
		Message:     documentMessage(name, len(data), text),
	}, nil
}
