// Package api serves the auction over HTTP and WebSocket. Every replica runs
// it; all of them read and write the shared store.
package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/team-auction/internal/auction"
	"github.com/jensholdgaard/team-auction/internal/auth"
	"github.com/jensholdgaard/team-auction/internal/config"
	"github.com/jensholdgaard/team-auction/internal/health"
)

// Server holds the HTTP handlers.
type Server struct {
	manager  *auction.Manager
	accounts *auth.Accounts
	issuer   *auth.Issuer
	health   *health.Handler
	cfg      config.ServerConfig
	logger   *slog.Logger
	tracer   trace.Tracer
	upgrader websocket.Upgrader
}

// Options configures a Server. Accounts and Issuer may be nil, which
// disables password login.
type Options struct {
	Manager  *auction.Manager
	Accounts *auth.Accounts
	Issuer   *auth.Issuer
	Health   *health.Handler
	Config   config.ServerConfig
	Logger   *slog.Logger
	Tracer   trace.TracerProvider
}

// New creates a Server.
func New(o Options) *Server {
	s := &Server{
		manager:  o.Manager,
		accounts: o.Accounts,
		issuer:   o.Issuer,
		health:   o.Health,
		cfg:      o.Config,
		logger:   o.Logger,
		tracer:   o.Tracer.Tracer("github.com/jensholdgaard/team-auction/internal/api"),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	if s.health != nil {
		s.health.Routes(r)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/ws", s.handleWebSocket)
		r.Route("/api", func(r chi.Router) {
			r.Post("/login", s.handleLogin)
			r.Get("/snapshot", s.handleSnapshot)
			r.Get("/history", s.handleHistory)

			r.Post("/players", s.handleAddPlayer)
			r.Post("/players/{id}/reset", s.handleResetPlayer)
			r.Post("/restore", s.handleRestore)

			r.Route("/auction", func(r chi.Router) {
				r.Post("/start", s.handleStart)
				r.Post("/bid", s.handleBid)
				r.Post("/clear", s.handleClear)
				r.Post("/unsold", s.handleUnsold)
				r.Post("/finalize", s.handleFinalize)
			})
		})
	})
	return r
}

// authenticate resolves a bearer token into a principal. Requests without
// one continue anonymously and are refused by the gate if they mutate.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearer(r)
		if raw == "" || s.issuer == nil {
			next.ServeHTTP(w, r)
			return
		}
		p, err := s.issuer.Parse(raw)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

// bearer reads the token from the Authorization header or, for WebSocket
// handshakes from browsers, the token query parameter.
func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return r.URL.Query().Get("token")
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
