// Package gateway runs the HTTP listener: REST routes, the health
// endpoint, and the WebSocket event stream.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oap-labs/oapd/internal/bus"
	"github.com/oap-labs/oapd/internal/config"
	httpapi "github.com/oap-labs/oapd/internal/http"
	"github.com/oap-labs/oapd/pkg/protocol"
)

// RouteRegistrar is implemented by every REST handler.
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Server owns the mux, the WebSocket clients, and graceful shutdown.
type Server struct {
	cfg    *config.Config
	events bus.Publisher
	auth   *httpapi.Auth
	log    *slog.Logger

	handlers []RouteRegistrar

	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[string]*Client

	httpServer *http.Server
	mux        *http.ServeMux
}

func NewServer(cfg *config.Config, events bus.Publisher, auth *httpapi.Auth, log *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		events:  events,
		auth:    auth,
		log:     log,
		clients: make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// AddHandler registers a REST handler for inclusion in the mux.
func (s *Server) AddHandler(h RouteRegistrar) {
	s.handlers = append(s.handlers, h)
}

// checkOrigin validates the WebSocket Origin header against the
// configured whitelist. No whitelist allows all; an empty Origin
// (CLI and service clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Server.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	s.log.Warn("websocket origin rejected", "origin", origin)
	return false
}

// BuildMux assembles and caches the mux with every registered route.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/events", s.auth.Middleware(s.handleEvents))
	for _, h := range s.handlers {
		h.RegisterRoutes(mux)
	}
	s.mux = mux
	return mux
}

// Start serves until the context ends, then drains with a timeout.
// Connected WebSocket clients get a shutdown event first.
func (s *Server) Start(ctx context.Context) error {
	handler := httpapi.RequestLogger(s.log, s.BuildMux())

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: handler}

	s.log.Info("server starting", "addr", addr)

	go func() {
		<-ctx.Done()
		s.events.Broadcast(bus.Event{Name: protocol.EventShutdown})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// BroadcastCacheInvalidate tells connected clients one cached domain
// went stale. Callers pass the counter value the bump produced.
func (s *Server) BroadcastCacheInvalidate(kind string, version int64) {
	s.events.Broadcast(bus.Event{
		Name:    protocol.EventCacheInvalidate,
		Payload: protocol.CacheInvalidatePayload{Kind: kind, Version: version},
	})
}

// handleEvents upgrades to WebSocket and streams bus events until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s.log)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.events.Subscribe(c.id, c.SendEvent)
	s.log.Info("client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()

	s.events.Unsubscribe(c.id)
	s.log.Info("client disconnected", "id", c.id)
}
