package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"gua-backend/internal/models"
)

// RemoteExtractor sends documents to an external POST /upload-document
// service instead of extracting in-process.
type RemoteExtractor struct {
	client   *resty.Client
	endpoint string
}

func NewRemoteExtractor(baseURL string, timeout time.Duration) *RemoteExtractor {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", "gua-backend/1.0")

	return &RemoteExtractor{
		client:   client,
		endpoint: strings.TrimRight(baseURL, "/") + "/upload-document",
	}
}

func (e *RemoteExtractor) Extract(ctx context.Context, data []byte, contentType string) (string, error) {
	var result models.UploadDocumentResponse
	var failure models.ProxyError

	resp, err := e.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(data).
		SetResult(&result).
		SetError(&failure).
		Post(e.endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to reach extraction service: %w", err)
	}
	if resp.IsError() {
		if failure.Error == "" {
			failure.Error = resp.Status()
		}
		return "", fmt.Errorf("extraction service returned %d: %s", resp.StatusCode(), failure.Error)
	}

	return result.ExtractedText, nil
}
