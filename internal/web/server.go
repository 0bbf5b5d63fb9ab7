package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/edvart/mazechase/internal/apperr"
	"github.com/edvart/mazechase/internal/auth"
	"github.com/edvart/mazechase/internal/events"
	"github.com/edvart/mazechase/internal/gamesession"
	"github.com/edvart/mazechase/internal/leaderboard"
	"github.com/edvart/mazechase/internal/metrics"
	"github.com/edvart/mazechase/internal/players"
	"github.com/edvart/mazechase/internal/push"
	"github.com/edvart/mazechase/internal/stats"
	"github.com/edvart/mazechase/internal/store"
)

// Deps are the services the HTTP layer talks to.
type Deps struct {
	Store       store.Store
	Sessions    *gamesession.Service
	Stats       *stats.Aggregator
	Leaderboard *leaderboard.Engine
	Players     *players.Service
	Tokens      *auth.TokenService
	Admins      *auth.AdminConfig
	// Push may be nil; push routes then answer 503.
	Push    *push.Service
	Metrics *metrics.Manager
}

// Config holds server configuration.
type Config struct {
	DevMode         bool
	DefaultPageSize int
}

// Server holds the HTTP router and its dependencies.
type Server struct {
	router      *chi.Mux
	store       store.Store
	sessions    *gamesession.Service
	stats       *stats.Aggregator
	leaderboard *leaderboard.Engine
	players     *players.Service
	tokens      *auth.TokenService
	admins      *auth.AdminConfig
	pushService *push.Service
	metrics     *metrics.Manager
	sse         *SSEHub
	log         logrus.FieldLogger
	cfg         Config
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, cfg Config, log logrus.FieldLogger) *Server {
	if cfg.DefaultPageSize < 1 {
		cfg.DefaultPageSize = 10
	}
	s := &Server{
		router:      chi.NewRouter(),
		store:       deps.Store,
		sessions:    deps.Sessions,
		stats:       deps.Stats,
		leaderboard: deps.Leaderboard,
		players:     deps.Players,
		tokens:      deps.Tokens,
		admins:      deps.Admins,
		pushService: deps.Push,
		metrics:     deps.Metrics,
		sse:         NewSSEHub(log),
		log:         log,
		cfg:         cfg,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())
	r.Get("/events", s.handleSSE)

	if s.cfg.DevMode {
		r.Get("/dev/login", s.handleDevLogin)
		r.Post("/dev/fake-players", s.handleAddFakePlayers)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/leaderboard", func(r chi.Router) {
			r.Get("/", s.handleLeaderboardAll)
			r.Get("/high-score", s.handleLeaderboard(leaderboard.HighScore))
			r.Get("/highest-level", s.handleLeaderboard(leaderboard.HighestLevel))
			r.Get("/total-ghosts", s.handleLeaderboard(leaderboard.TotalGhosts))
		})
		r.Get("/push/vapid-key", s.handleGetVAPIDPublicKey)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(s.tokens, s.writeError))

			r.Get("/me", s.handleMe)
			r.Put("/profile", s.handleUpdateProfile)

			r.Route("/game-sessions", func(r chi.Router) {
				r.Post("/start", s.handleStartSession)
				r.Get("/", s.handleListSessions)
				r.Get("/active", s.handleActiveSession)
				r.Get("/{sessionID}", s.handleGetSession)
				r.Put("/{sessionID}", s.handleUpdateSession)
				r.Post("/{sessionID}/end", s.handleEndSession)
			})

			r.Route("/stats", func(r chi.Router) {
				r.Get("/me", s.handleMyStats)
				r.Get("/user/{userID}", s.handleUserStats)
			})

			r.Route("/push", func(r chi.Router) {
				r.Post("/subscribe", s.handleSubscribePush)
				r.Post("/unsubscribe", s.handleUnsubscribePush)
				r.Post("/test", s.handleTestPush)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.AdminGate(s.admins, s.writeError))
				r.Get("/users", s.handleAdminListUsers)
				r.Post("/users", s.handleAdminUpsertUser)
			})
		})
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// StartSSE starts the SSE hub goroutine.
func (s *Server) StartSSE(ch <-chan events.Event) {
	go s.sse.Run(ch)
}

// CloseStreams disconnects every SSE client so a graceful shutdown is not
// held open by long-lived streams.
func (s *Server) CloseStreams() {
	s.sse.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeError(w, r, apperr.Unavailable("web.health", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
