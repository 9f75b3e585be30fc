// Package api provides the HTTP and WebSocket operational surface: health,
// metrics, mode-manager status/control, and the SEMI_AUTO confirmation
// channel. It is not a backtest-report or exchange-facing API — those are
// out of scope (see DESIGN.md).
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/v0-strategy-engine/signal-engine/internal/mode"
	"github.com/v0-strategy-engine/signal-engine/pkg/types"
)

// confirmationsOutstanding is package-level so repeated Server construction
// in tests doesn't attempt to register the same collector twice against the
// default registry.
var confirmationsOutstanding = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "signal_engine_confirmations_outstanding",
	Help: "SEMI_AUTO confirmation requests awaiting a response.",
})

// Server is the HTTP/WebSocket operational surface fronting a Trading Mode
// Manager. Adapted from the reference repo's internal/api/server.go, with
// the backtest-engine-and-data-store surface replaced by mode-manager
// status/control and the confirmation channel, matching this module's
// tighter scope (see SPEC_FULL.md's DOMAIN STACK section).
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	manager    *mode.Manager
	upgrader   websocket.Upgrader
	clients    map[string]*Client

	pendingMu sync.Mutex
	pending   map[string]func(bool) // symbol -> Respond, while a confirmation is outstanding
}

// Client is a connected WebSocket subscriber.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// Message is the WebSocket envelope for both client requests and server-
// pushed events (confirmation requests, status changes).
type Message struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"` // request, response, event
	Method    string      `json:"method"`
	Payload   interface{} `json:"payload,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewServer constructs a Server fronting manager. It starts a background
// goroutine draining manager.Confirmations() and broadcasting each request
// to WebSocket subscribers as a "confirmation:request" event.
func NewServer(logger *zap.Logger, config *types.ServerConfig, manager *mode.Manager) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		logger:  logger.Named("api"),
		config:  config,
		router:  mux.NewRouter(),
		manager: manager,
		clients: make(map[string]*Client),
		pending: make(map[string]func(bool)),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	go s.drainConfirmations()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/mode", s.handleSetMode).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/start", s.handleStart).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/stop", s.handleStop).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/trades/open", s.handleOpenTrades).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/trades/closed", s.handleClosedTrades).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/confirmations/{symbol}", s.handleRespondConfirmation).Methods(http.MethodPost)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	if s.config != nil && s.config.WebSocketPath != "" {
		s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
	}
}

// Router exposes the underlying handler, for tests that want to drive
// requests through httptest.NewServer without binding a real port.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving HTTP. Blocks until the server stops or errors.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully drains WebSocket clients and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, client := range s.clients {
		client.Conn.Close()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.manager.GetStatus()
	json.NewEncoder(w).Encode(map[string]interface{}{
		"mode":            status.Mode,
		"running":         status.Running,
		"dailyTradeCount": status.DailyTradeCount,
		"symbols":         s.manager.Symbols(),
	})
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.manager.SetMode(r.Context(), mode.Mode(req.Mode)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"mode": req.Mode})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Start(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Stop(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "stopped"})
}

func (s *Server) handleOpenTrades(w http.ResponseWriter, r *http.Request) {
	trades := s.manager.Engine().GetOpenTrades()
	json.NewEncoder(w).Encode(map[string]interface{}{
		"trades": trades,
		"count":  len(trades),
	})
}

func (s *Server) handleClosedTrades(w http.ResponseWriter, r *http.Request) {
	trades := s.manager.Engine().GetClosedTrades()
	json.NewEncoder(w).Encode(map[string]interface{}{
		"trades": trades,
		"count":  len(trades),
	})
}

type respondConfirmationRequest struct {
	Confirmed bool `json:"confirmed"`
}

func (s *Server) handleRespondConfirmation(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	s.pendingMu.Lock()
	respond, ok := s.pending[symbol]
	if ok {
		delete(s.pending, symbol)
	}
	s.pendingMu.Unlock()

	if !ok {
		http.Error(w, "no confirmation outstanding for symbol", http.StatusNotFound)
		return
	}

	var req respondConfirmationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	confirmationsOutstanding.Dec()
	respond(req.Confirmed)
	json.NewEncoder(w).Encode(map[string]interface{}{"symbol": symbol, "confirmed": req.Confirmed})
}

// drainConfirmations relays every SEMI_AUTO confirmation request onto the
// WebSocket broadcast and tracks it by symbol so handleRespondConfirmation
// can resolve it from an HTTP call.
func (s *Server) drainConfirmations() {
	for req := range s.manager.Confirmations() {
		s.pendingMu.Lock()
		s.pending[req.Symbol] = req.Respond
		s.pendingMu.Unlock()
		confirmationsOutstanding.Inc()

		s.broadcast(&Message{
			ID:        uuid.New().String(),
			Type:      "event",
			Method:    "confirmation:request",
			Payload:   map[string]string{"symbol": req.Symbol},
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		ID:   uuid.New().String(),
		Conn: conn,
		Send: make(chan []byte, 256),
	}

	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()

	s.logger.Info("WebSocket client connected", zap.String("id", client.ID))
	go s.readPump(client)
	go s.writePump(client)
}

func (s *Server) readPump(client *Client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		s.mu.Unlock()
		client.Conn.Close()
		s.logger.Info("WebSocket client disconnected", zap.String("id", client.ID))
	}()

	client.Conn.SetReadLimit(512 * 1024)
	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, messageBytes, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			s.logger.Warn("invalid WebSocket message", zap.Error(err))
			continue
		}
		s.handleMessage(client, &msg)
	}
}

func (s *Server) writePump(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleMessage(client *Client, msg *Message) {
	response := &Message{
		ID:        msg.ID,
		Type:      "response",
		Method:    msg.Method,
		Timestamp: time.Now().UnixMilli(),
	}

	switch msg.Method {
	case "ping":
		response.Payload = map[string]string{"pong": "ok"}
	case "status":
		status := s.manager.GetStatus()
		response.Payload = status
	case "confirmation:respond":
		payload, _ := msg.Payload.(map[string]interface{})
		symbol, _ := payload["symbol"].(string)
		confirmed, _ := payload["confirmed"].(bool)

		s.pendingMu.Lock()
		respond, ok := s.pending[symbol]
		if ok {
			delete(s.pending, symbol)
		}
		s.pendingMu.Unlock()

		if !ok {
			response.Error = "no confirmation outstanding for symbol"
		} else {
			confirmationsOutstanding.Dec()
			respond(confirmed)
			response.Payload = map[string]interface{}{"symbol": symbol, "confirmed": confirmed}
		}
	default:
		response.Error = "unknown method"
	}

	responseBytes, err := json.Marshal(response)
	if err != nil {
		return
	}
	select {
	case client.Send <- responseBytes:
	default:
	}
}

// broadcast sends a message to every connected client.
func (s *Server) broadcast(msg *Message) {
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		select {
		case client.Send <- msgBytes:
		default:
		}
	}
}
