package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/kbchat/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/kbchat/internal/api/middlewares"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds and wires all routes.
func NewServer(a *App) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + a.Config.Port,
			Handler:           NewRouter(a),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: a.Logger,
	}
}

// Routes is everything the router needs; App provides it in production and
// tests provide stubs.
type Routes struct {
	Assistant    handlers.Answerer
	Ingest       handlers.IngestRunner
	Documents    handlers.DocumentUploader
	Replier      handlers.Replier
	BotAuth      handlers.ActivityValidator
	PasswordHash string
	JWTSecret    string
	CORSOrigins  []string
	Logger       *slog.Logger
}

func NewRouter(a *App) http.Handler {
	rt := Routes{
		Assistant:    a.Assistant,
		Ingest:       a.Ingest,
		Documents:    a.Documents,
		Replier:      a.Connector,
		PasswordHash: a.Config.AdminPasswordHash,
		JWTSecret:    a.Config.JWTSecret,
		CORSOrigins:  a.Config.CORSOrigins,
		Logger:       a.Logger,
	}
	// a nil *Authenticator must not become a non-nil interface
	if a.BotAuth != nil {
		rt.BotAuth = a.BotAuth
	}
	return rt.Handler()
}

func (rt Routes) Handler() http.Handler {
	authHandler := handlers.NewAuthHandler(rt.PasswordHash, rt.JWTSecret)
	chatHandler := handlers.NewChatHandler(rt.Assistant)
	ingestHandler := handlers.NewIngestHandler(rt.Ingest, rt.Logger)
	botHandler := handlers.NewBotHandler(rt.Assistant, rt.Replier, rt.BotAuth, rt.Logger)
	docHandler := handlers.NewDocumentHandler(rt.Documents, rt.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// admin routes are open unless an admin password is configured
	protect := func(r chi.Router) chi.Router {
		if rt.PasswordHash == "" {
			return r
		}
		return r.With(appMiddleware.JWTMiddleware([]byte(rt.JWTSecret)))
	}

	// ingestion can outlast the request timeout
	protect(r).Post("/ingest", ingestHandler.Ingest)
	protect(r).Get("/ingest", ingestHandler.Status)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/", handlers.Health)
		r.Get("/healthz", handlers.Health)

		r.Route("/api", func(api chi.Router) {
			api.Post("/messages", botHandler.Messages)
			api.Post("/chat/query", chatHandler.QueryKnowledgeBase)
			api.Post("/search", chatHandler.Search)
			api.Post("/login", authHandler.Login)
			protect(api).Post("/documents/upload", docHandler.UploadDocument)
		})
	})

	return r
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
