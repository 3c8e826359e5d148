package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gua-backend/internal/middleware"
	"gua-backend/internal/models"
	"gua-backend/internal/services"
)

// multipartOverhead leaves room for form boundaries and headers on top of
// the file itself.
const multipartOverhead = 1 << 20

// ChatHandler exposes the message pipeline and conversation navigation of
// the caller's session.
type ChatHandler struct {
	sessions  *services.SessionManager
	pipeline  *services.MessagePipeline
	maxUpload int64
}

func NewChatHandler(sessions *services.SessionManager, pipeline *services.MessagePipeline, maxUpload int64) *ChatHandler {
	return &ChatHandler{sessions: sessions, pipeline: pipeline, maxUpload: maxUpload}
}

// session resolves the caller's session and bootstraps it on first use.
// It writes the error response itself.
func (h *ChatHandler) session(w http.ResponseWriter, r *http.Request) (*services.Session, bool) {
	s, err := h.sessions.CheckSession(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return nil, false
	}
	if s == nil {
		handleServiceError(w, r, services.ErrNoSession)
		return nil, false
	}
	// A failed bootstrap is retried on the next request.
	h.pipeline.EnsureLoaded(r.Context(), s)
	return s, true
}

func conversationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid conversation ID", r))
		return uuid.Nil, false
	}
	return id, true
}

func conversationList(s *services.Session) models.ConversationList {
	list := models.ConversationList{Conversations: s.Conversations()}
	if list.Conversations == nil {
		list.Conversations = []models.Conversation{}
	}
	if id := s.SelectedID(); id != uuid.Nil {
		list.SelectedID = &id
	}
	return list
}

func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	if _, err := h.pipeline.LoadConversations(r.Context(), s); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, conversationList(s))
}

func (h *ChatHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req models.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	conv, err := h.pipeline.NewConversation(r.Context(), s)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if req.Title != "" {
		if conv, err = h.pipeline.RenameConversation(r.Context(), s, conv.ID, req.Title); err != nil {
			handleServiceError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, conv)
}

func (h *ChatHandler) RenameConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req models.RenameConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	conv, err := h.pipeline.RenameConversation(r.Context(), s, id, req.Title)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

func (h *ChatHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := h.pipeline.DeleteConversation(r.Context(), s, id); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, conversationList(s))
}

func (h *ChatHandler) SelectConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := h.pipeline.SelectConversation(r.Context(), s, id); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, timeline(s))
}

func timeline(s *services.Session) models.Timeline {
	t := models.Timeline{Messages: s.Timeline(), Loading: s.Loading()}
	if t.Messages == nil {
		t.Messages = []models.TimelineEntry{}
	}
	if id := s.SelectedID(); id != uuid.Nil {
		t.ConversationID = &id
	}
	return t
}

func (h *ChatHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, timeline(s))
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	switch req.Kind {
	case "", models.TurnChat, models.TurnUploadFile, models.TurnGenerateImage:
	default:
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Unknown message kind", r))
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}

	result, err := h.pipeline.SendMessage(r.Context(), s, req.Text, req.Kind)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result.Response())
}

func (h *ChatHandler) GenerateImage(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}

	result, err := h.pipeline.GenerateImage(r.Context(), s, req.Prompt)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result.Response())
}

// UploadDocument accepts a multipart "file". Files the ingestor rejects
// still produce a turn: a single assistant message explaining why.
func (h *ChatHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", "File is too large", r))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "No file provided", r))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Could not read file", r))
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}

	result, err := h.pipeline.UploadDocument(r.Context(), s, filepath.Base(header.Filename), data)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result.Response())
}
