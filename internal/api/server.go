package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/PitchLabs-AI/debrief/internal/grading"
	"github.com/PitchLabs-AI/debrief/internal/pipeline"
	"github.com/PitchLabs-AI/debrief/internal/store"
)

// Store is the persistence surface the API layer needs. Satisfied by
// *store.Store.
type Store interface {
	CreateSession(ctx context.Context, sess *store.Session) (int64, error)
	GetSession(ctx context.Context, id int64) (*store.Session, error)
	SetCleanTranscript(ctx context.Context, sessionID int64, clean string) error
	SetSummary(ctx context.Context, sessionID int64, summary string) error
	GetLatestGrade(ctx context.Context, sessionID int64) (*grading.Grade, error)
	ApplyManualOverride(ctx context.Context, sessionID, userID int64, totalScore, maxScore float64) error
}

// Grader is the on-demand grading surface. Satisfied by *grading.Engine.
type Grader interface {
	GradeSession(ctx context.Context, sessionID, userID int64, assignmentID *int64, transcript string) (*grading.Result, error)
	GradeTranscript(ctx context.Context, in grading.Input) (*grading.Result, error)
}

// Cleaner serves the lazy transcript-clean read path. The bool reports
// whether cleaning actually ran.
type Cleaner interface {
	Clean(ctx context.Context, raw string) (string, bool)
}

// Summarizer serves the on-demand summary endpoint.
type Summarizer interface {
	Generate(ctx context.Context, transcript string) (string, error)
}

// Dispatcher schedules the fire-and-forget post-call pipeline.
type Dispatcher interface {
	Dispatch(job pipeline.Job)
}

type Server struct {
	router     *chi.Mux
	port       int
	store      Store
	grader     Grader
	cleaner    Cleaner
	summarizer Summarizer
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewServer(port int, apiToken string, db Store, grader Grader, cleaner Cleaner, summarizer Summarizer, dispatcher Dispatcher, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:     router,
		port:       port,
		store:      db,
		grader:     grader,
		cleaner:    cleaner,
		summarizer: summarizer,
		dispatcher: dispatcher,
		logger:     logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/debrief/status", s.status)

	router.Route("/api/v1/sessions", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Post("/", s.createSession)
		r.Post("/{id}/grade", s.gradeSession)
		r.Get("/{id}/grade", s.getGrade)
		r.Put("/{id}/grade", s.overrideGrade)
		r.Post("/{id}/summary", s.summarizeSession)
		r.Get("/{id}/transcript", s.getTranscript)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// BearerAuthMiddleware requires a bearer token when one is configured. An
// empty token leaves the routes open, matching the optional-integration
// deployment mode.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "debrief",
		"status":  "ready",
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
