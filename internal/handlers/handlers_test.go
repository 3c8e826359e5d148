package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"

	"gua-backend/internal/models"
	"gua-backend/internal/services"
)

// ─── Error Mapping ───

func TestHandleServiceError_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &services.ValidationError{Fields: map[string]string{"text": "required"}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"turn in flight", services.ErrTurnInFlight, http.StatusConflict, "TURN_IN_FLIGHT"},
		{"no session", services.ErrNoSession, http.StatusUnauthorized, "NO_SESSION"},
		{"conflict", &services.ConflictError{Message: "taken"}, http.StatusConflict, "CONFLICT"},
		{"not found", &services.NotFoundError{Message: "Conversation not found"}, http.StatusNotFound, "NOT_FOUND"},
		{"auth", &services.AuthError{Message: "bad"}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"forbidden", &services.ForbiddenError{Message: "verify"}, http.StatusForbidden, "FORBIDDEN"},
		{"rate limit", &services.RateLimitError{Message: "slow"}, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"store", &services.StoreError{Op: "list", Err: errors.New("down")}, http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
		{"ingestion", &services.IngestionError{Message: "Unsupported type (.png)."}, http.StatusBadRequest, "UNSUPPORTED_DOCUMENT"},
		{"configuration", &services.ConfigurationError{Setting: "DEEPSEEK_API_KEY", Message: "missing"}, http.StatusInternalServerError, "CONFIGURATION_ERROR"},
		{"completion", &services.CompletionError{StatusCode: 500, Err: errors.New("x")}, http.StatusBadGateway, "COMPLETION_ERROR"},
		{"wrapped store", fmt.Errorf("load: %w", &services.StoreError{Op: "list", Err: errors.New("down")}), http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rr := httptest.NewRecorder()

			handleServiceError(rr, req, tc.err)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			var body models.ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode error body: %v", err)
			}
			if body.Error.Code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, body.Error.Code)
			}
		})
	}
}

func TestHandleServiceError_ValidationFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rr := httptest.NewRecorder()

	handleServiceError(rr, req, &services.ValidationError{Fields: map[string]string{"title": "Title is required"}})

	var body models.ErrorResponse
	json.NewDecoder(rr.Body).Decode(&body)
	if body.Error.Fields["title"] != "Title is required" {
		t.Fatalf("expected title field error, got %v", body.Error.Fields)
	}
}

// ─── Proxy Handler Tests ───

type stubCompleter struct {
	resp  *openai.ChatCompletionResponse
	err   error
	calls int
	got   []models.ChatMessage
}

func (s *stubCompleter) CompleteRaw(ctx context.Context, messages []models.ChatMessage) (*openai.ChatCompletionResponse, error) {
	s.calls++
	s.got = messages
	if s.err != nil {
		return nil, s.err
	}
	if len(messages) == 0 {
		return nil, &services.ValidationError{}
	}
	return s.resp, nil
}

type stubExtractor struct {
	text        string
	err         error
	contentType string
}

func (s *stubExtractor) Extract(ctx context.Context, data []byte, contentType string) (string, error) {
	s.contentType = contentType
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

func TestProxyRoot(t *testing.T) {
	h := NewProxyHandler(&stubCompleter{}, &stubExtractor{}, 1<<20)
	rr := httptest.NewRecorder()

	h.Root(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Body.String() != "Gua Backend is running!" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestProxyChat_ReturnsUpstreamPayload(t *testing.T) {
	completer := &stubCompleter{resp: &openai.ChatCompletionResponse{
		ID:    "chatcmpl-9",
		Model: "deepseek-chat",
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Role: "assistant", Content: "Hi!"},
			FinishReason: openai.FinishReasonStop,
		}},
	}}
	h := NewProxyHandler(completer, &stubExtractor{}, 1<<20)

	body := `{"messages":[{"role":"user","content":"Hello"}]}`
	rr := httptest.NewRecorder()
	h.Chat(rr, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp openai.ChatCompletionResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.ID != "chatcmpl-9" || resp.Choices[0].Message.Content != "Hi!" {
		t.Fatalf("payload not relayed as is: %+v", resp)
	}
	if len(completer.got) != 1 || completer.got[0].Content != "Hello" {
		t.Fatalf("history not forwarded: %+v", completer.got)
	}
}

func TestProxyChat_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		msg    string
	}{
		{"malformed body", `{`, nil, http.StatusBadRequest, "Invalid request body"},
		{"empty messages", `{"messages":[]}`, nil, http.StatusBadRequest, "messages must not be empty"},
		{"missing key", `{"messages":[{"role":"user","content":"x"}]}`,
			&services.ConfigurationError{Message: "Server configuration error: DEEPSEEK_API_KEY is not set"},
			http.StatusInternalServerError, "Server configuration error: DEEPSEEK_API_KEY is not set"},
		{"upstream down", `{"messages":[{"role":"user","content":"x"}]}`,
			&services.CompletionError{StatusCode: 503, Err: errors.New("unavailable")},
			http.StatusInternalServerError, "completion failed with status 503: unavailable"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewProxyHandler(&stubCompleter{err: tc.err}, &stubExtractor{}, 1<<20)
			rr := httptest.NewRecorder()
			h.Chat(rr, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(tc.body)))

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body models.ProxyError
			json.NewDecoder(rr.Body).Decode(&body)
			if body.Error != tc.msg {
				t.Fatalf("expected error %q, got %q", tc.msg, body.Error)
			}
		})
	}
}

func TestProxyUploadDocument(t *testing.T) {
	extractor := &stubExtractor{text: "extracted"}
	h := NewProxyHandler(&stubCompleter{}, extractor, 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/upload-document", strings.NewReader("hello"))
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	rr := httptest.NewRecorder()
	h.UploadDocument(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp models.UploadDocumentResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Message != "File processed successfully!" || resp.ExtractedText != "extracted" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if extractor.contentType != services.ContentTypeText {
		t.Fatalf("expected media type without params, got %q", extractor.contentType)
	}
}

func TestProxyUploadDocument_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        []byte
		extractErr  error
		status      int
		msg         string
	}{
		{"unsupported type", "image/png", []byte("x"), nil, http.StatusBadRequest, "Unsupported file type."},
		{"missing type", "", []byte("x"), nil, http.StatusBadRequest, "Unsupported file type."},
		{"too large", "application/pdf", bytes.Repeat([]byte("a"), 2048), nil, http.StatusRequestEntityTooLarge, "File too large."},
		{"extraction failure", "application/pdf", []byte("%PDF"), errors.New("broken xref"), http.StatusInternalServerError, "Failed to process document: broken xref"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewProxyHandler(&stubCompleter{}, &stubExtractor{err: tc.extractErr}, 1024)
			req := httptest.NewRequest(http.MethodPost, "/upload-document", bytes.NewReader(tc.body))
			if tc.contentType != "" {
				req.Header.Set("Content-Type", tc.contentType)
			}
			rr := httptest.NewRecorder()
			h.UploadDocument(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body models.ProxyError
			json.NewDecoder(rr.Body).Decode(&body)
			if body.Error != tc.msg {
				t.Fatalf("expected %q, got %q", tc.msg, body.Error)
			}
		})
	}
}

// ─── Chat Handler Tests ───

func TestConversationID_Invalid(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/api/v1/conversations/not-a-uuid", nil)
	rr := httptest.NewRecorder()

	if _, ok := conversationID(rr, req); ok {
		t.Fatalf("expected invalid id to be rejected")
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
