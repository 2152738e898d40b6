// Package api exposes the control surface: REST routes for auth, trading,
// market data, chat, and saves, plus the websocket push channel.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketsim/internal/auth"
	"marketsim/internal/broadcast"
	"marketsim/internal/catalog"
	"marketsim/internal/chat"
	"marketsim/internal/config"
	"marketsim/internal/metrics"
	"marketsim/internal/save"
	"marketsim/internal/sim"
)

// Server wires every component behind the HTTP listener.
type Server struct {
	cfg      config.Config
	auth     *auth.Service
	registry *sim.Registry
	trader   sim.Trader
	hub      *broadcast.Hub
	room     *chat.Room
	saves    *save.Store
	catalog  *catalog.Catalog
	logger   *slog.Logger

	httpSrv *http.Server
	started time.Time

	chatLimiter *auth.LoginLimiter

	botMu   sync.RWMutex
	botKeys map[string]string // bot session id -> key
}

// NewServer builds the server and its router.
func NewServer(
	cfg config.Config,
	authSvc *auth.Service,
	registry *sim.Registry,
	hub *broadcast.Hub,
	room *chat.Room,
	saves *save.Store,
	cat *catalog.Catalog,
	logger *slog.Logger,
) *Server {
	s := &Server{
		cfg:         cfg,
		auth:        authSvc,
		registry:    registry,
		hub:         hub,
		room:        room,
		saves:       saves,
		catalog:     cat,
		logger:      logger.With("component", "api"),
		started:     time.Now(),
		chatLimiter: auth.NewLoginLimiter(10, 1), // 10 burst, 1 msg/s sustained
		botKeys:     make(map[string]string),
	}

	s.httpSrv = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.requestLogger)

	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)
	r.Get("/auth/profile", s.requireAuth(s.handleProfile))

	r.Get("/chat/messages", s.requireAuth(s.handleChatHistory))
	r.Post("/chat/messages", s.requireAuth(s.handleChatPost))

	r.Post("/bot/register", s.handleBotRegister)
	r.Post("/bot/order", s.handleBotOrder)
	r.Get("/bot/{id}/stats", s.handleBotStats)

	r.Get("/market/data", s.handleMarketData)
	r.Get("/portfolio", s.handlePortfolio)

	r.Post("/saves/create", s.handleSaveCreate)
	r.Get("/saves/{code}", s.handleSaveGet)
	r.Post("/saves/{code}", s.requireAuth(s.handleSavePut))
	r.Get("/saves/{code}/preset/{name}", s.handleSavePresetGet)
	r.Delete("/saves/{code}/preset/{name}", s.handleSavePresetDelete)

	r.Post("/session", s.requireAuth(s.handleSessionCreate))
	r.Get("/session", s.requireAuth(s.handleSessionGet))
	r.Post("/session/order", s.requireAuth(s.handleSessionOrder))
	r.Post("/session/speed", s.requireAuth(s.handleSessionSpeed))
	r.Post("/session/end", s.requireAuth(s.handleSessionEnd))
	r.Post("/session/restore", s.requireAuth(s.handleSessionRestore))

	r.Get("/ws", s.handleWebSocket)

	r.Get("/health", s.handleHealth)
	r.Method("GET", "/metrics", promhttp.Handler())

	return r
}

// requestLogger emits one structured line per request and feeds the HTTP
// metrics counter.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		metrics.IncHTTPRequest(r.Method, strconv.Itoa(ww.Status()))
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Listen tries the configured ports in order and returns the first listener
// that binds. The caller exits with code 2 when every port fails.
func (s *Server) Listen() (net.Listener, int, error) {
	var lastErr error
	for _, port := range s.cfg.Server.BindPorts {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			s.logger.Warn("port unavailable", "port", port, "error", err)
			lastErr = err
			continue
		}
		s.logger.Info("listening", "port", port)
		return ln, port, nil
	}
	return nil, 0, fmt.Errorf("no bindable port in %v: %w", s.cfg.Server.BindPorts, lastErr)
}

// Serve runs the HTTP server on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }
