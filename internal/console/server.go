// Package console is the node's local debug console: a status API, the
// Prometheus endpoint, and a websocket that mirrors log output and accepts
// operator commands.
package console

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"nhooyr.io/websocket"

	"occupancy-node/internal/events"
	"occupancy-node/internal/node"
)

// StatusSource provides the status snapshot served by the console.
type StatusSource interface {
	Status() node.Status
}

// ServerOption configures the console server.
type ServerOption func(*Server)

// WithAPIKey protects /api/ and /ws with a shared key.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed websocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithVersion sets the firmware version reported by /api/version.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithResetFunc sets the action run by the "reset" console command.
func WithResetFunc(fn func()) ServerOption {
	return func(s *Server) {
		s.onReset = fn
	}
}

// Server is the console HTTP handler.
type Server struct {
	hub            *Hub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	version        string
	gatherer       prometheus.Gatherer
	onReset        func()

	srcMu sync.RWMutex
	src   StatusSource

	wg          sync.WaitGroup
	unsubEvents func()
}

// NewServer starts the hub and mirrors every bus event to console clients.
func NewServer(hub *Hub, bus *events.Bus, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		hub:      hub,
		logger:   logger.With("component", "console"),
		mux:      http.NewServeMux(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run()
	}()

	if bus != nil {
		s.unsubEvents = bus.OnAll(func(event events.Event) {
			s.hub.Broadcast(event)
		})
	}

	s.routes()
	return s
}

// SetStatusSource attaches the running node. Until then /api/status
// answers 503.
func (s *Server) SetStatusSource(src StatusSource) {
	s.srcMu.Lock()
	s.src = src
	s.srcMu.Unlock()
}

func (s *Server) status() (node.Status, bool) {
	s.srcMu.RLock()
	src := s.src
	s.srcMu.RUnlock()
	if src == nil {
		return node.Status{}, false
	}
	return src.Status(), true
}

// Stop detaches from the bus and shuts the hub down.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.hub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/status", s.handleAPIStatus)
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.apiKey != "" {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/"):
			if !s.validKey(r.Header.Get("X-API-Key")) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		case r.URL.Path == "/ws":
			// Browsers cannot set headers on a websocket upgrade.
			if !s.validKey(r.URL.Query().Get("api_key")) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) validKey(key string) bool {
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) == 1
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := s.status()
	if !ok {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "node starting"})
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response", "err", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(4096)

	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}

	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.writePump(c)
	s.readPump(c)
}

func (s *Server) writePump(c *client) {
	for msg := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	c.conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) readPump(c *client) {
	defer func() {
		select {
		case s.hub.unregister <- c:
		case <-s.hub.done:
			c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.hub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		s.handleCommand(ctx, c, strings.TrimSpace(string(data)))
	}
}

// commandReply is the websocket answer to an operator command.
type commandReply struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleCommand(ctx context.Context, c *client, cmd string) {
	reply := commandReply{Type: "reply", Command: cmd}
	switch strings.ToLower(cmd) {
	case "status":
		if st, ok := s.status(); ok {
			reply.Result = st
		} else {
			reply.Error = "node starting"
		}
	case "reset":
		if s.onReset == nil {
			reply.Error = "reset not available"
			break
		}
		s.logger.Warn("reset requested from console")
		reply.Result = "restarting"
		defer s.onReset()
	default:
		reply.Error = "unknown command"
	}

	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.conn.Write(wctx, websocket.MessageText, data); err != nil {
		s.logger.Debug("ws reply", "err", err)
	}
}
