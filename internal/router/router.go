package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"gua-backend/internal/handlers"
	"gua-backend/internal/middleware"
	"gua-backend/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	authHandler *handlers.AuthHandler,
	chatHandler *handlers.ChatHandler,
	proxyHandler *handlers.ProxyHandler,
	wsHub *websocket.Hub,
	frontendURL string,
	log zerolog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(frontendURL))

	// Auth rate limiter (10 req/min per IP)
	authLimiter := middleware.NewRateLimiter(10, time.Minute)
	// Completion relay limiter (30 req/min per IP)
	proxyLimiter := middleware.NewRateLimiter(30, time.Minute)

	r.Get("/", proxyHandler.Root)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// ──── Relay Routes (public) ────
	r.Group(func(r chi.Router) {
		r.Use(proxyLimiter.Middleware)
		r.Post("/chat", proxyHandler.Chat)
		r.Post("/upload-document", proxyHandler.UploadDocument)
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Auth Routes ────
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(authLimiter.Middleware)
				r.Post("/signup", authHandler.SignUp)
				r.Post("/signin", authHandler.SignIn)
				r.Post("/refresh", authHandler.Refresh)
				r.Get("/verify-email", authHandler.VerifyEmail)
			})

			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Post("/signout", authHandler.SignOut)
				r.Get("/session", authHandler.Session)
			})
		})

		// ──── Conversation Routes ────
		r.Route("/conversations", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/", chatHandler.ListConversations)
			r.Post("/", chatHandler.CreateConversation)
			r.Put("/{id}", chatHandler.RenameConversation)
			r.Delete("/{id}", chatHandler.DeleteConversation)
			r.Post("/{id}/select", chatHandler.SelectConversation)
		})

		// ──── Chat Routes ────
		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/timeline", chatHandler.Timeline)
			r.Post("/messages", chatHandler.SendMessage)
			r.Post("/images", chatHandler.GenerateImage)
			r.Post("/documents", chatHandler.UploadDocument)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
