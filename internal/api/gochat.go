package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-realtime-chat/internal/config"
	"github.com/npezzotti/go-realtime-chat/internal/database"
	"github.com/npezzotti/go-realtime-chat/internal/server"
)

type GoChatApp struct {
	log            *slog.Logger
	db             database.Repository
	mux            *http.Server
	cs             *server.ChatServer
	allowedOrigins []string
	uploadDir      string
	maxUploadBytes int64
	maxAvatarBytes int64
}

// NewGoChatApp wires the HTTP surface around cs. metrics is mounted at
// /metrics when non-nil.
func NewGoChatApp(logger *slog.Logger, cs *server.ChatServer, db database.Repository, metrics http.Handler, cfg *config.Config) *GoChatApp {
	s := &GoChatApp{
		log:            logger,
		db:             db,
		cs:             cs,
		allowedOrigins: cfg.AllowedOrigins,
		uploadDir:      cfg.UploadDir,
		maxUploadBytes: cfg.MaxUploadBytes,
		maxAvatarBytes: cfg.MaxAvatarBytes,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)

	r.Get("/healthz", s.healthCheck)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	r.Get("/ws", s.serveWs)
	r.Get("/uploads/{name}", s.serveUpload)

	r.Route("/api", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Post("/", s.createUser)
			r.Get("/", s.listUsers)
			r.Get("/{id}", s.getUser)
		})

		r.Get("/channels", s.listChannels)
		r.Get("/channels/{id}/messages", s.listMessages)

		r.Post("/upload/image", s.uploadFile(false))
		r.Post("/upload/video", s.uploadFile(true))
		r.Post("/upload/audio", s.uploadFile(true))

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/channels", s.createChannel)
			r.Post("/channels/{id}/messages", s.postMessage)
			r.Get("/dm/{odId}/messages", s.listDirectMessages)
			r.Post("/upload/avatar", s.uploadAvatar)

			r.Route("/friends", func(r chi.Router) {
				r.Get("/", s.listFriends)
				r.Get("/requests", s.listFriendRequests)
				r.Post("/request", s.createFriendRequest)
				r.Post("/accept/{id}", s.acceptFriendRequest)
				r.Post("/decline/{id}", s.declineFriendRequest)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, NewNotFoundError())
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, NewMethodNotAllowedError())
	})

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "X-User-Id", "X-Request-Id"}),
		handlers.AllowCredentials(),
	)(r)

	h = s.errorHandler(h)

	s.mux = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped root handler.
func (s *GoChatApp) Handler() http.Handler {
	return s.mux.Handler
}

func (s *GoChatApp) Start() error {
	s.log.Info("starting server", "addr", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
