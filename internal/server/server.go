package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gdszyy/betradar-replay-tester/internal/config"
	"github.com/gdszyy/betradar-replay-tester/internal/playlist"
	"github.com/gdszyy/betradar-replay-tester/internal/session"
	"github.com/gdszyy/betradar-replay-tester/internal/store"
	"github.com/gdszyy/betradar-replay-tester/internal/uof"
	"github.com/gdszyy/betradar-replay-tester/internal/ws"
)

// SummarySource serves live sport-event documents, proxied raw to the
// console.
type SummarySource interface {
	EventSummary(ctx context.Context, urn uof.URN, lang string) ([]byte, error)
	EventTimeline(ctx context.Context, urn uof.URN, lang string) ([]byte, error)
}

type Server struct {
	cfg       *config.Config
	sessions  *session.Manager
	playlists *playlist.Manager
	gw        *store.Gateway
	remote    SummarySource
	hub       *ws.Hub
	registry  *prometheus.Registry
	logger    *zap.Logger
}

func NewServer(cfg *config.Config, sessions *session.Manager, playlists *playlist.Manager, gw *store.Gateway, remote SummarySource, hub *ws.Hub, registry *prometheus.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:       cfg,
		sessions:  sessions,
		playlists: playlists,
		gw:        gw,
		remote:    remote,
		hub:       hub,
		registry:  registry,
		logger:    logger,
	}
}

func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(s.logger))

	r.Get("/health", s.handleHealth)
	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	if s.hub != nil {
		r.Get("/ws", s.hub.ServeWS)
	}

	r.Route("/api", func(api chi.Router) {
		api.Route("/replay", func(rr chi.Router) {
			rr.Post("/start", s.handleStart)
			rr.Post("/stop", s.handleStop)
			rr.Post("/reset", s.handleReset)
			rr.Get("/status", s.handleStatus)
			rr.Get("/playlist", s.handlePlaylistGet)
			rr.Post("/playlist", s.handlePlaylistAdd)
			rr.Delete("/playlist", s.handlePlaylistRemove)
			rr.Get("/scenarios", s.handleScenarios)
			rr.Post("/scenarios/{id}/play", s.handleScenarioPlay)
		})
		api.Get("/matches", s.handleRecentMatches)
		api.Get("/matches/{id}", s.handleMatch)
		api.Get("/matches/{id}/summary", s.handleMatchSummary)
		api.Get("/matches/{id}/timeline", s.handleMatchTimeline)
		api.Get("/messages", s.handleMessages)
	})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
			)
			next.ServeHTTP(w, r)
		})
	}
}
