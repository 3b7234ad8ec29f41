package api

import (
	"net/http"

	"github.com/dom/news-unpacked/internal/api/handlers"
	"github.com/dom/news-unpacked/internal/api/middleware"
	"github.com/dom/news-unpacked/internal/config"
	"github.com/dom/news-unpacked/internal/repository"
	"github.com/dom/news-unpacked/internal/websocket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// NewRouter mounts the document store API. The server holds no game rules;
// every participant writes the shared documents directly.
func NewRouter(store repository.Store, hub *websocket.Hub, cfg *config.Config, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.Logger(log))
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	roomHandler := handlers.NewRoomHandler(store, log)
	messageHandler := handlers.NewMessageHandler(store, log)
	wsHandler := handlers.NewWebSocketHandler(hub, log)
	qrHandler := handlers.NewQRHandler(cfg.PublicURL, log)
	limiter := middleware.NewRateLimiter(cfg.WriteRatePerSecond, cfg.WriteBurst)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/rooms", func(r chi.Router) {
			r.With(limiter.Handler).Post("/", roomHandler.Create)

			r.Route("/{code}", func(r chi.Router) {
				r.Get("/", roomHandler.Get)
				r.Get("/ws", wsHandler.Room)
				r.Get("/qr.png", qrHandler.Room)
				r.Get("/messages", messageHandler.List)
				r.Get("/messages/ws", wsHandler.Messages)

				// Writes
				r.Group(func(r chi.Router) {
					r.Use(limiter.Handler)
					r.Put("/", roomHandler.Replace)
					r.Patch("/", roomHandler.Patch)
					r.Post("/topics", roomHandler.AddTopic)
					r.Post("/messages", messageHandler.Append)
				})
			})
		})
	})

	return r
}
