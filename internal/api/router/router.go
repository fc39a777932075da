package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/vogohq/concierge/internal/http/handlers"
	httpmiddleware "github.com/vogohq/concierge/internal/http/middleware"
	"github.com/vogohq/concierge/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger      *logging.Logger
	ChatHandler *handlers.ChatHandler

	MetricsHandler http.Handler

	JWTSecret          string
	CORSAllowedOrigins []string
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.ChatHandler != nil {
		r.Route("/api/chat", func(chat chi.Router) {
			if cfg.RateLimitPerSecond > 0 {
				chat.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
			}
			chat.Use(httpmiddleware.OptionalAuth(cfg.JWTSecret))

			chat.Post("/start", cfg.ChatHandler.Start)
			chat.Post("/message", cfg.ChatHandler.Message)
			chat.Get("/{conversationID}", cfg.ChatHandler.Get)
			chat.With(httpmiddleware.RequireAuth(cfg.JWTSecret)).Get("/", cfg.ChatHandler.List)
		})
	}

	return r
}
