// Package api exposes conversations over HTTP. Each API session wraps a
// generation context and a transcript; media arrives base64-encoded in
// message bodies and flows through the same cache and window layers as
// the CLI.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/felixgeelhaar/chorus/internal/config"
	"github.com/felixgeelhaar/chorus/internal/engine"
	"github.com/felixgeelhaar/chorus/internal/memory"
	"github.com/felixgeelhaar/chorus/internal/model"
	"github.com/felixgeelhaar/chorus/internal/observe"
	"github.com/felixgeelhaar/chorus/internal/policy"
	"github.com/felixgeelhaar/chorus/internal/session"
	"github.com/felixgeelhaar/chorus/internal/store"
)

// Server implements the HTTP API.
type Server struct {
	mdl    *model.Model
	eng    engine.TextEngine
	obs    *observe.Observer
	guard  *policy.Guard
	st     store.Storage
	mem    memory.Memory
	cfg    config.Config
	router *chi.Mux

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// NewServer creates the HTTP API server. st may be nil; transcripts are
// then kept in memory only.
func NewServer(mdl *model.Model, eng engine.TextEngine, obs *observe.Observer, st store.Storage, cfg config.Config) *Server {
	s := &Server{
		mdl:      mdl,
		eng:      eng,
		obs:      obs,
		guard:    policy.New(cfg.Policy),
		st:       st,
		cfg:      cfg,
		sessions: make(map[string]*session.Session),
	}
	if st != nil {
		s.mem = memory.New(st)
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(120 * time.Second))

		r.Get("/capabilities", s.handleCapabilities)
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions", s.handleListSessions)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteSession)
			r.Post("/messages", s.handleMessage)
			r.Get("/transcript", s.handleTranscript)
			r.Get("/turns", s.handleListTurns)
			r.Delete("/history", s.handleClearHistory)
			r.Delete("/media", s.handleClearMedia)
		})
		r.Get("/media/{key}/similar", s.handleSimilarMedia)
	})

	s.router = r
}

// Router returns the configured handler, for tests and embedding.
func (s *Server) Router() http.Handler { return s.router }

// Serve starts the HTTP server on the configured listen address.
func (s *Server) Serve() error {
	s.obs.Log().Info().Str("addr", s.cfg.Listen).Msg("starting HTTP server")
	return http.ListenAndServe(s.cfg.Listen, s.router)
}

func (s *Server) lookup(id string) (*session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	successResponse(w, map[string]string{"status": "healthy"})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	successResponse(w, map[string]interface{}{
		"engine": s.eng.Name(),
		"vision": s.mdl.VisionCapabilities(),
		"audio":  s.mdl.AudioCapabilities(),
	})
}

// errorResponse writes a JSON error response.
func errorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// successResponse writes a JSON success response.
func successResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) persistTurn(sessionID, role, text string, images, audio int) {
	if s.st == nil {
		return
	}
	err := s.st.AppendTurn(&store.TurnRecord{
		SessionID: sessionID,
		Role:      role,
		Text:      text,
		Images:    images,
		Audio:     audio,
		CreatedAt: time.Now(),
	})
	if err != nil {
		s.obs.Log().Warn().Err(err).Str("session", sessionID).Msg("failed to persist turn")
	}
}

func (s *Server) persistSession(id string) {
	if s.st == nil {
		return
	}
	now := time.Now()
	err := s.st.CreateSession(&store.SessionRecord{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Engine:    s.eng.Name(),
		Model:     s.cfg.Model,
	})
	if err != nil {
		s.obs.Log().Warn().Err(err).Str("session", id).Msg("failed to persist session")
	}
}

// touchSession bumps the persisted record's update time after a turn.
func (s *Server) touchSession(id string) {
	if s.st == nil {
		return
	}
	rec, err := s.st.GetSession(id)
	if err != nil {
		return
	}
	rec.UpdatedAt = time.Now()
	if err := s.st.UpdateSession(rec); err != nil {
		s.obs.Log().Warn().Err(err).Str("session", id).Msg("failed to update persisted session")
	}
}

func (s *Server) sessionNotFound(w http.ResponseWriter, id string) {
	errorResponse(w, http.StatusNotFound, fmt.Sprintf("session not found: %s", id))
}
