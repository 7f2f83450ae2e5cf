// Copyright (C) 2026  Toolerator Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package monitor serves turret status over HTTP and WebSocket. The
// surface is read only: clients subscribe and receive periodic status
// events, commands are not accepted.
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"toolerator-go/pkg/log"
)

// StatusSource provides axis status snapshots. Implementations must be
// safe for concurrent use.
type StatusSource interface {
	// AxisNames lists the configured turret axes.
	AxisNames() []string

	// AxisStatus returns a status snapshot for one axis, nil if the
	// axis does not exist.
	AxisStatus(name string) map[string]interface{}
}

// Config holds monitor server configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string

	// Interval is the WebSocket broadcast period.
	Interval time.Duration
}

// DefaultConfig returns the standard monitor settings.
func DefaultConfig() Config {
	return Config{
		Addr:     ":8080",
		Interval: 250 * time.Millisecond,
	}
}

// Server broadcasts axis status to WebSocket subscribers and answers
// one-shot HTTP status queries.
type Server struct {
	source   StatusSource
	cfg      Config
	logger   *log.Logger
	upgrader websocket.Upgrader

	httpServer *http.Server

	clientMu sync.RWMutex
	clients  map[int64]*wsClient
	nextID   int64

	running   atomic.Bool
	startTime time.Time
}

// NewServer creates a monitor server for the given status source.
func NewServer(source StatusSource, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultConfig().Addr
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Server{
		source: source,
		cfg:    cfg,
		logger: log.GetLogger("monitor"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[int64]*wsClient),
		startTime: time.Now(),
	}
}

// Handler returns the HTTP handler, exposed separately for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start runs the server until Stop is called. It blocks like
// http.ListenAndServe.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Handler(),
	}

	s.running.Store(true)
	s.logger.WithField("addr", s.cfg.Addr).Info("monitor server starting")

	go s.broadcastLoop()

	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down and disconnects all clients.
func (s *Server) Stop() error {
	s.running.Store(false)

	s.clientMu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = make(map[int64]*wsClient)
	s.clientMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// statusEvent is the JSON payload sent on /ws and /status.
type statusEvent struct {
	Event     string                            `json:"event"`
	Eventtime float64                           `json:"eventtime"`
	Axes      map[string]map[string]interface{} `json:"axes"`
}

func (s *Server) snapshot() statusEvent {
	axes := make(map[string]map[string]interface{})
	for _, name := range s.source.AxisNames() {
		if st := s.source.AxisStatus(name); st != nil {
			axes[name] = st
		}
	}
	return statusEvent{
		Event:     "status",
		Eventtime: time.Since(s.startTime).Seconds(),
		Axes:      axes,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.snapshot())
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(`<html>
<head><title>Toolerator Monitor</title></head>
<body>
<h1>Toolerator Monitor</h1>
<p><a href="/status">Status</a></p>
<p>WebSocket status stream: <code>/ws</code></p>
</body>
</html>`))
}

// wsClient is one WebSocket subscriber.
type wsClient struct {
	id     int64
	conn   *websocket.Conn
	sendCh chan statusEvent
	done   chan struct{}
	once   sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// send queues an event, dropping it when the client is slow.
func (c *wsClient) send(ev statusEvent) bool {
	select {
	case c.sendCh <- ev:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &wsClient{
		id:     atomic.AddInt64(&s.nextID, 1),
		conn:   conn,
		sendCh: make(chan statusEvent, 16),
		done:   make(chan struct{}),
	}

	s.clientMu.Lock()
	s.clients[client.id] = client
	s.clientMu.Unlock()

	s.logger.WithField("client", client.id).Debug("websocket client connected")

	// First event immediately so the client does not wait a full
	// broadcast interval for initial state.
	client.send(s.snapshot())

	go s.writePump(client)
	s.readPump(client)
}

// readPump consumes (and discards) client frames until the connection
// drops. The monitor accepts no commands; inbound payloads only keep
// the read deadline alive.
func (s *Server) readPump(c *wsClient) {
	defer func() {
		s.removeClient(c)
		c.close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.WithError(err).WithField("client", c.id).Debug("websocket read error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	}
}

func (s *Server) writePump(c *wsClient) {
	ping := time.NewTicker(30 * time.Second)
	defer func() {
		ping.Stop()
		c.close()
	}()

	for {
		select {
		case ev := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (s *Server) removeClient(c *wsClient) {
	s.clientMu.Lock()
	delete(s.clients, c.id)
	s.clientMu.Unlock()
	s.logger.WithField("client", c.id).Debug("websocket client disconnected")
}

// ClientCount reports connected WebSocket subscribers.
func (s *Server) ClientCount() int {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	return len(s.clients)
}

func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for s.running.Load() {
		<-ticker.C
		s.broadcast()
	}
}

func (s *Server) broadcast() {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()

	if len(s.clients) == 0 {
		return
	}

	ev := s.snapshot()
	for _, c := range s.clients {
		c.send(ev)
	}
}
