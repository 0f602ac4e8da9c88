package frontend

import (
	"context"
	"net/http"
	"strings"

	"github.com/user/modforge/internal/config"
)

type Server struct {
	auth     *Auth
	handlers *Handlers
	feed     *LogFeed
	mux      *http.ServeMux

	commitSecret  string
	trackerSecret string
}

type ServerConfig struct {
	Handlers      HandlersConfig
	Auth          config.AuthConfig
	SessionSecret string
	CommitSecret  string
	TrackerSecret string
}

func NewServer(ctx context.Context, cfg ServerConfig) (*Server, error) {
	var auth *Auth
	var err error
	if cfg.Auth.Issuer != "" {
		auth, err = NewAuth(ctx, cfg.Auth, []byte(cfg.SessionSecret))
		if err != nil {
			return nil, err
		}
		roles := NewRolesClient(cfg.Auth.RolesURL, cfg.Auth.RolesToken)
		cfg.Handlers.Gate = NewGatekeeper(auth, roles, cfg.Auth.TeamRole, cfg.Auth.BetaRole)
	}

	handlers := NewHandlers(cfg.Handlers)

	s := &Server{
		auth:          auth,
		handlers:      handlers,
		feed:          NewLogFeed(cfg.Handlers.RunLog),
		mux:           http.NewServeMux(),
		commitSecret:  cfg.CommitSecret,
		trackerSecret: cfg.TrackerSecret,
	}

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	if s.auth != nil {
		s.mux.HandleFunc("/auth/login", s.auth.HandleLogin)
		s.mux.HandleFunc("/auth/callback", s.auth.HandleCallback)
		s.mux.HandleFunc("/auth/logout", s.auth.HandleLogout)
		s.mux.HandleFunc("/api/me", s.auth.HandleMe)
	}

	s.mux.HandleFunc("/api/releases", s.handleReleases)
	s.mux.HandleFunc("/api/status", s.handlers.GetStatus)
	s.mux.HandleFunc("/api/status/feed", s.feed.Handle)
	s.mux.HandleFunc("/api/branches", s.handlers.ListBranches)
	s.mux.HandleFunc("/api/downloads", s.handlers.ListDownloads)
	s.mux.HandleFunc("/api/bugs", s.handlers.GetBugReport)
	s.mux.HandleFunc("/api/runs", s.handlers.ListRuns)
	s.mux.HandleFunc("/hooks/commit/", s.handleHook(s.commitSecret, s.handlers.ReceiveCommitHook))
	s.mux.HandleFunc("/hooks/tracker/", s.handleHook(s.trackerSecret, s.handlers.ReceiveTrackerHook))
	s.mux.HandleFunc("/health", s.handlers.Health)
}

func (s *Server) handleReleases(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlers.CreateRelease(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleHook gates an inbound receiver behind its path secret. A wrong
// secret reads as a missing route.
func (s *Server) handleHook(secret string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if secret == "" || len(parts) != 3 || parts[2] != secret {
			http.NotFound(w, r)
			return
		}
		next(w, r)
	}
}

func (s *Server) Handler() http.Handler {
	return s.mux
}
