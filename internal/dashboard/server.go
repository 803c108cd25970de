// Package dashboard streams daemon Changes to WebSocket clients.
//
// Every Change taken from the watcher's Sender is wrapped in a Message
// envelope and fanned out as JSON to all connected clients. The server also
// exposes /health and the Prometheus /metrics endpoint.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/gitbutler/butlerd/internal/logging"
	"github.com/gitbutler/butlerd/internal/metrics"
)

// MessageTypeHello is the first frame every client receives.
const MessageTypeHello = "hello"

const (
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Message is the JSON envelope written to clients. Type is the Change kind,
// Data its payload.
type Message struct {
	Type      string          `json:"type"`
	ProjectID string          `json:"project_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Config holds server configuration.
type Config struct {
	// Host to bind, default 127.0.0.1
	Host string

	// Port to listen on; 0 picks a free port
	Port int

	Metrics *metrics.Metrics
	Logger  *logrus.Entry
}

// DefaultConfig returns the loopback listener on port 7777.
func DefaultConfig() *Config {
	return &Config{Host: "127.0.0.1", Port: 7777}
}

// Server accepts WebSocket clients and fans Messages out to them.
type Server struct {
	addr string
	ln   net.Listener
	http *http.Server

	hub *hub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics *metrics.Metrics
	log     *logrus.Entry
}

// NewServer creates a dashboard server. Call Start to begin listening.
func NewServer(cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewLogger("dashboard")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    net.JoinHostPort(host, strconv.Itoa(cfg.Port)),
		hub:     newHub(),
		ctx:     ctx,
		cancel:  cancel,
		metrics: cfg.Metrics,
		log:     log,
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.ln = ln

	routes := http.NewServeMux()
	routes.HandleFunc("/ws", s.serveClient)
	routes.HandleFunc("/health", s.serveHealth)
	routes.Handle("/metrics", s.metrics.Handler())

	s.http = &http.Server{
		Handler:           routes,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.WithField("addr", ln.Addr().String()).Info("Dashboard listening")
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Dashboard server failed")
		}
	}()

	return nil
}

// Stop disconnects every client and shuts the HTTP server down. Stopping a
// server that was never started is a no-op.
func (s *Server) Stop() error {
	s.cancel()

	for _, c := range s.hub.clear() {
		c.finish()
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	s.metrics.SetDashboardClients(0)

	if s.http == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down dashboard: %w", err)
	}

	s.wg.Wait()
	s.log.Info("Dashboard stopped")
	return nil
}

// Broadcast queues msg for every connected client. A client whose queue is
// full is disconnected.
func (s *Server) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	frame, err := json.Marshal(msg)
	if err != nil {
		s.log.WithError(err).WithField("type", msg.Type).Error("Failed to encode message")
		return
	}

	for _, c := range s.hub.members() {
		if !c.enqueue(frame) {
			s.log.WithField("type", msg.Type).Warn("Client too slow, disconnecting")
			s.disconnect(c, websocket.StatusPolicyViolation, "too slow")
		}
	}
}

// serveClient upgrades the request and reads from the client until it goes
// away. Writes happen on the client's pump goroutine.
func (s *Server) serveClient(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := newClient(conn)

	hello, _ := json.Marshal(Message{Type: MessageTypeHello, Timestamp: time.Now()})
	c.enqueue(hello)

	count := s.hub.join(c)
	s.metrics.SetDashboardClients(count)
	s.log.WithField("clients", count).Debug("Client connected")

	s.wg.Add(1)
	go s.pump(c)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			s.disconnect(c, websocket.StatusNormalClosure, "")
			return
		}
	}
}

func (s *Server) pump(c *client) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-c.done:
			return
		case frame := <-c.out:
			ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				s.log.WithError(err).Debug("Failed to write to client")
				s.disconnect(c, websocket.StatusInternalError, "")
				return
			}
		}
	}
}

func (s *Server) disconnect(c *client, code websocket.StatusCode, reason string) {
	count, ok := s.hub.leave(c)
	if !ok {
		return
	}

	c.finish()
	_ = c.conn.Close(code, reason)

	s.metrics.SetDashboardClients(count)
	s.log.WithField("clients", count).Debug("Client disconnected")
}

type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", Clients: s.hub.size()})
}

// Addr returns the listening address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	return s.hub.size()
}
