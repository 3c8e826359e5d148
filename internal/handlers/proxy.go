package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"gua-backend/internal/models"
	"gua-backend/internal/services"
)

type rawCompleter interface {
	CompleteRaw(ctx context.Context, messages []models.ChatMessage) (*openai.ChatCompletionResponse, error)
}

// ProxyHandler serves the browser-facing relay endpoints. Failures are
// reported as a flat {"error": "..."} body.
type ProxyHandler struct {
	completer rawCompleter
	extractor services.Extractor
	maxBytes  int64
}

func NewProxyHandler(completer rawCompleter, extractor services.Extractor, maxBytes int64) *ProxyHandler {
	return &ProxyHandler{completer: completer, extractor: extractor, maxBytes: maxBytes}
}

func proxyError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ProxyError{Error: message})
}

func (h *ProxyHandler) Root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Gua Backend is running!"))
}

// Chat forwards the history upstream and returns the upstream payload
// unchanged.
func (h *ProxyHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req models.ProxyChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		proxyError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.completer.CompleteRaw(r.Context(), req.Messages)
	if err != nil {
		var validationErr *services.ValidationError
		if errors.As(err, &validationErr) {
			proxyError(w, http.StatusBadRequest, "messages must not be empty")
			return
		}
		proxyError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// UploadDocument takes the raw document as the request body, typed by its
// Content-Type header.
func (h *ProxyHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || (mediaType != services.ContentTypePDF && mediaType != services.ContentTypeText) {
		proxyError(w, http.StatusBadRequest, "Unsupported file type.")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			proxyError(w, http.StatusRequestEntityTooLarge, "File too large.")
			return
		}
		proxyError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	text, err := h.extractor.Extract(r.Context(), body, mediaType)
	if err != nil {
		proxyError(w, http.StatusInternalServerError, "Failed to process document: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, models.UploadDocumentResponse{
		Message:       "File processed successfully!",
		ExtractedText: text,
	})
}
