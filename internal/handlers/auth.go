package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"gua-backend/internal/middleware"
	"gua-backend/internal/models"
	"gua-backend/internal/services"
)

// tokenService is the part of the identity service the session manager
// does not cover.
type tokenService interface {
	RefreshToken(ctx context.Context, refreshToken string) (*models.AuthTokens, error)
	VerifyEmail(ctx context.Context, token string) (*models.User, *models.AuthTokens, error)
}

type AuthHandler struct {
	sessions *services.SessionManager
	pipeline *services.MessagePipeline
	tokens   tokenService
}

func NewAuthHandler(sessions *services.SessionManager, pipeline *services.MessagePipeline, tokens tokenService) *AuthHandler {
	return &AuthHandler{sessions: sessions, pipeline: pipeline, tokens: tokens}
}

func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req models.SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	result, err := h.sessions.SignUp(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// SignIn starts a session and loads its conversations. A failed load still
// signs the user in; the list is fetched again on the next request.
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req models.SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	session, tokens, err := h.sessions.SignIn(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	h.pipeline.EnsureLoaded(r.Context(), session)

	state := session.State()
	writeJSON(w, http.StatusOK, models.SignInResponse{User: &state.User, Tokens: tokens, Session: &state})
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Token is required", r))
		return
	}

	user, tokens, err := h.tokens.VerifyEmail(r.Context(), token)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.SignInResponse{User: user, Tokens: tokens})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	tokens, err := h.tokens.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

// SignOut drops the session. The refresh token in the body is optional.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	userID := middleware.GetUserID(r.Context())
	if err := h.sessions.SignOut(r.Context(), userID, req.RefreshToken); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Signed out successfully"})
}

// Session returns the current session, starting one from the access token
// when the server has none yet.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.CheckSession(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if session == nil {
		handleServiceError(w, r, services.ErrNoSession)
		return
	}
	h.pipeline.EnsureLoaded(r.Context(), session)

	writeJSON(w, http.StatusOK, session.State())
}

// Shared helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: middleware.GetRequestID(r.Context()),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Fields:    fields,
			RequestID: middleware.GetRequestID(r.Context()),
		},
	}
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *services.ValidationError
		conflictErr   *services.ConflictError
		notFoundErr   *services.NotFoundError
		authErr       *services.AuthError
		forbiddenErr  *services.ForbiddenError
		rateErr       *services.RateLimitError
		storeErr      *services.StoreError
		ingestErr     *services.IngestionError
		configErr     *services.ConfigurationError
		completionErr *services.CompletionError
	)

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", validationErr.Fields, r))
	case errors.Is(err, services.ErrTurnInFlight):
		writeJSON(w, http.StatusConflict, errorResp("TURN_IN_FLIGHT", err.Error(), r))
	case errors.Is(err, services.ErrNoSession):
		writeJSON(w, http.StatusUnauthorized, errorResp("NO_SESSION", "No active session. Please sign in again.", r))
	case errors.As(err, &conflictErr):
		writeJSON(w, http.StatusConflict, errorResp("CONFLICT", conflictErr.Message, r))
	case errors.As(err, &notFoundErr):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", notFoundErr.Message, r))
	case errors.As(err, &authErr):
		writeJSON(w, http.StatusUnauthorized, errorResp("UNAUTHORIZED", authErr.Message, r))
	case errors.As(err, &forbiddenErr):
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", forbiddenErr.Message, r))
	case errors.As(err, &rateErr):
		writeJSON(w, http.StatusTooManyRequests, errorResp("RATE_LIMITED", rateErr.Message, r))
	case errors.As(err, &storeErr):
		writeJSON(w, http.StatusServiceUnavailable, errorResp("STORE_UNAVAILABLE", "Conversation store is unavailable. Please try again.", r))
	case errors.As(err, &ingestErr):
		writeJSON(w, http.StatusBadRequest, errorResp("UNSUPPORTED_DOCUMENT", ingestErr.Message, r))
	case errors.As(err, &configErr):
		writeJSON(w, http.StatusInternalServerError, errorResp("CONFIGURATION_ERROR", configErr.Message, r))
	case errors.As(err, &completionErr):
		writeJSON(w, http.StatusBadGateway, errorResp("COMPLETION_ERROR", "The assistant is unavailable right now", r))
	default:
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
	}
}
