// Package server exposes the coordinator over HTTP and websockets.
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"github.com/park285/cheese-live/internal/msgcat"
	"github.com/park285/cheese-live/internal/session"
)

type Options struct {
	// AllowedOrigins applies to CORS and the websocket origin check. "*" or
	// empty allows any origin.
	AllowedOrigins []string
	// CreatesPerMinute limits game creation per client IP. Zero disables it.
	CreatesPerMinute int
	PingInterval     time.Duration
	Catalog          *msgcat.Catalog
}

type Server struct {
	router  *mux.Router
	coord   *session.Coordinator
	cat     *msgcat.Catalog
	opts    Options
	limiter *RateLimiter
	handler http.Handler
}

func New(coord *session.Coordinator, opts Options) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.Catalog == nil {
		opts.Catalog = msgcat.MustDefault()
	}
	s := &Server{
		router: mux.NewRouter(),
		coord:  coord,
		cat:    opts.Catalog,
		opts:   opts,
	}
	if opts.CreatesPerMinute > 0 {
		s.limiter = NewRateLimiter(rate.Limit(float64(opts.CreatesPerMinute)/60.0), opts.CreatesPerMinute)
	}
	s.routes()
	s.handler = cors.New(cors.Options{
		AllowedOrigins: corsOrigins(opts.AllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         600,
	}).Handler(s.router)
	return s
}

func (s *Server) routes() {
	s.router.Use(loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWS)

	api := s.router.PathPrefix("/api").Subrouter()
	var create http.Handler = http.HandlerFunc(s.handleCreate)
	if s.limiter != nil {
		create = s.limiter.Middleware(create, s.cat.Text("errors.rate_limited", nil))
	}
	api.Handle("/games", create).Methods(http.MethodPost)
	api.HandleFunc("/games/join", s.handleJoin).Methods(http.MethodPost)
	api.HandleFunc("/games/{code}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/games/{code}/resign", s.handleResign).Methods(http.MethodPost)
	api.HandleFunc("/games/{code}/abort", s.handleAbort).Methods(http.MethodPost)

	s.router.PathPrefix("/api/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found", "code": "not_found"})
	})
}

// Handler returns the root handler including CORS.
func (s *Server) Handler() http.Handler { return s.handler }

// HTTPServer builds the listening server for addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

func corsOrigins(in []string) []string {
	if allowAll(in) {
		return []string{"*"}
	}
	return in
}

func allowAll(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// wsOriginPatterns converts allowed origins into host patterns.
func wsOriginPatterns(origins []string) []string {
	if allowAll(origins) {
		return []string{"*"}
	}
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
