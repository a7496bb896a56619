// Package server is the composition root: it builds the profile store,
// the verifier and the session service from configuration, mounts the
// routes and runs the HTTP server with graceful shutdown.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Server.New():
//	  profile store (sqlite | firestore)
//	  CertSource → IDTokenVerifier
//	  TokenService, GoogleProvider + FirebaseExchanger (optional)
//	  → SessionService → AuthHandler → routes
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/alchemyai/alchemy-backend/internal/auth"
	"github.com/alchemyai/alchemy-backend/internal/config"
	"github.com/alchemyai/alchemy-backend/internal/handler"
	"github.com/alchemyai/alchemy-backend/internal/middleware"
	"github.com/alchemyai/alchemy-backend/internal/repository"
	firestoreRepo "github.com/alchemyai/alchemy-backend/internal/repository/firestore"
	sqliteRepo "github.com/alchemyai/alchemy-backend/internal/repository/sqlite"
	"github.com/alchemyai/alchemy-backend/internal/service"
)

// profileStore is a ProfileRepository the server owns and must close.
type profileStore interface {
	repository.ProfileRepository
	Close() error
}

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the profile store connection and closes it when Start
// returns.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	store  profileStore
	health []handler.HealthChecker
	keys   auth.KeySource
}

// Option customises server construction. Tests use it to swap the
// network-backed key source for static keys.
type Option func(*Server)

// WithKeySource replaces the Google certificate download.
func WithKeySource(keys auth.KeySource) Option {
	return func(s *Server) { s.keys = keys }
}

// New builds the full dependency graph from cfg.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.keys == nil {
		s.keys = auth.NewCertSource(auth.FirebaseCertsURL, nil)
	}

	if err := s.openStore(); err != nil {
		return nil, err
	}

	if err := s.setupRoutes(); err != nil {
		s.store.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// openStore picks the profile backend named by PROFILE_STORE.
func (s *Server) openStore() error {
	switch s.config.ProfileStore {
	case config.StoreFirestore:
		store, err := firestoreRepo.Open(context.Background(), s.config.FirebaseProjectID, nil)
		if err != nil {
			return fmt.Errorf("opening Firestore: %w", err)
		}
		s.store = store

	default:
		if s.config.DBPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(s.config.DBPath), 0o755); err != nil {
				return fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := sqliteRepo.New(s.config.DBPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		s.store = db
		s.health = append(s.health, db)
	}
	return nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /                       → service banner
// GET    /health                 → liveness (+ SQLite ping)
// GET    /api/me                 → verified Firebase identity     [ID token]
// POST   /api/session            → sign in with a Firebase ID token
// POST   /api/session/guest      → guest session
// GET    /api/session            → current session                [session]
// POST   /api/session/logout     → clear session cookie
// GET    /auth/google/login      → Google consent redirect         (optional)
// GET    /auth/google/callback   → finish web sign-in              (optional)
//
// MIDDLEWARE ORDER:
// RequestID → RealIP → Logger → Recoverer → CORS
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.CORS(s.config.CORSOrigins))

	verifier, err := auth.NewIDTokenVerifier(s.config.FirebaseProjectID, s.keys,
		auth.WithLeeway(s.config.TokenLeeway))
	if err != nil {
		return fmt.Errorf("creating token verifier: %w", err)
	}

	tokens, err := auth.NewTokenService(s.config.SessionSecret, s.config.SessionTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	var (
		flow    *service.GoogleFlow
		consent handler.ConsentURLer
	)
	if s.config.GoogleEnabled() {
		google := auth.NewGoogleProvider(auth.GoogleConfig{
			ClientID:     s.config.GoogleClientID,
			ClientSecret: s.config.GoogleClientSecret,
			RedirectURL:  s.config.GoogleCallbackURL,
		})
		firebase, err := auth.NewFirebaseExchanger(s.config.FirebaseAPIKey, "", nil)
		if err != nil {
			return fmt.Errorf("creating Firebase exchanger: %w", err)
		}
		flow = &service.GoogleFlow{Codes: google, Firebase: firebase, RequestURI: s.config.GoogleCallbackURL}
		consent = google
	} else {
		s.logger.Warn("Google OAuth not configured; /auth/google routes are disabled")
	}

	sessions := service.NewSessionService(verifier, s.store, tokens, flow, s.logger)
	authHandler := handler.NewAuthHandler(sessions, consent, s.logger,
		handler.WithSecureCookies(s.config.CookieSecure))

	// === System Routes ===
	s.router.Get("/", handler.HandleRoot)
	s.router.Get("/health", handler.HandleHealth(s.health...))

	// === API Routes ===
	s.router.Route("/api", func(r chi.Router) {
		r.With(auth.RequireIDToken(verifier)).Get("/me", authHandler.HandleMe)

		r.Route("/session", func(r chi.Router) {
			r.Post("/", authHandler.HandleSignIn)
			r.Post("/guest", authHandler.HandleGuest)
			r.Post("/logout", authHandler.HandleLogout)
			r.With(auth.RequireSession(tokens)).Get("/", authHandler.HandleSession)
		})
	})

	// === Web OAuth Routes ===
	if flow != nil {
		s.router.Get("/auth/google/login", authHandler.HandleGoogleLogin)
		s.router.Get("/auth/google/callback", authHandler.HandleGoogleCallback)
	}

	return nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the profile store. Start calls it on the way out.
func (s *Server) Close() error {
	return s.store.Close()
}

// Start starts the HTTP server and blocks until SIGINT/SIGTERM, then:
//  1. stops accepting new connections
//  2. waits up to 30s for in-flight requests
//  3. closes the profile store
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("profile_store", s.config.ProfileStore),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
