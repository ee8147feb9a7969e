package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"parley-backend/internal/handlers"
	"parley-backend/internal/middleware"
	"parley-backend/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	authHandler *handlers.AuthHandler,
	convHandler *handlers.ConversationHandler,
	chatHandler *handlers.ChatHandler,
	checkpointHandler *handlers.CheckpointHandler,
	modelHandler *handlers.ModelHandler,
	userHandler *handlers.UserHandler,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{frontendURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Auth rate limiter (10 req/min per IP)
	authLimiter := middleware.NewRateLimiter(10, time.Minute)

	// Completion rate limiter (30 req/min per user)
	completionLimiter := middleware.NewRateLimiter(30, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Auth Routes (public) ────
		r.Route("/auth", func(r chi.Router) {
			r.Use(authLimiter.Middleware)
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.Get("/verify-email", authHandler.VerifyEmail)
			r.Post("/resend-verification", authHandler.ResendVerification)
			r.Post("/forgot-password", authHandler.ForgotPassword)
			r.Post("/reset-password", authHandler.ResetPassword)

			// Logout requires auth
			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Post("/logout", authHandler.Logout)
			})
		})

		// ──── Conversation Routes ────
		r.Route("/conversations", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/", convHandler.List)
			r.Post("/", convHandler.Create)
			r.Get("/{id}", convHandler.Get)
			r.Patch("/{id}", convHandler.Update)
			r.Delete("/{id}", convHandler.Delete)
			r.Put("/{id}/pin", convHandler.TogglePin)
			r.Get("/{id}/suggestions", convHandler.GetSuggestions)
			r.Post("/{id}/context", convHandler.SetContext)

			// Completion endpoint is limited per user, not per IP
			r.Group(func(r chi.Router) {
				r.Use(completionLimiter.PerUserMiddleware)
				r.Post("/{id}/messages", chatHandler.SendMessage)
			})

			r.Route("/{id}/checkpoints", func(r chi.Router) {
				r.Post("/", checkpointHandler.Create)
				r.Get("/", checkpointHandler.List)
			})
		})

		// ──── Checkpoint Routes ────
		r.Route("/checkpoints", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Post("/{checkpointID}/restore", checkpointHandler.Restore)
			r.Delete("/{checkpointID}", checkpointHandler.Delete)
		})

		// ──── Model Routes ────
		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/models", modelHandler.List)
		})

		// ──── User & Settings Routes ────
		r.Route("/user", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/me", userHandler.GetMe)
			r.Put("/me", userHandler.UpdateMe)
			r.Put("/password", userHandler.ChangePassword)
			r.Delete("/me", userHandler.DeleteMe)
			r.Get("/settings", userHandler.GetSettings)
			r.Put("/settings", userHandler.UpdateSettings)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
