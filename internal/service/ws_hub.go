// Package service exposes the risk engine over HTTP: ingestion endpoints for
// quotes, orders, execution reports and risk parameters, and a WebSocket feed
// of risk-state and portfolio events.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openclear/risk-engine/internal/accounting"
	"github.com/openclear/risk-engine/internal/metrics"
	"github.com/openclear/risk-engine/internal/model"
	"github.com/openclear/risk-engine/internal/monitor"
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type      string                           `json:"type"`
	Account   model.Account                    `json:"account"`
	State     *model.RiskState                 `json:"state,omitempty"`
	Portfolio *accounting.PortfolioUpdateEntry `json:"portfolio,omitempty"`
}

func riskStateMessage(event monitor.RiskStateEvent) WSMessage {
	state := event.State
	return WSMessage{Type: "risk_state", Account: event.Account, State: &state}
}

func portfolioMessage(event monitor.PortfolioEvent) WSMessage {
	entry := event.PortfolioUpdateEntry
	return WSMessage{Type: "portfolio", Account: event.Account, Portfolio: &entry}
}

// WSHub manages WebSocket connections and broadcasts risk-state and
// portfolio events to all connected clients. A newly connected client first
// receives the current snapshot of both.
type WSHub struct {
	monitor    *monitor.RiskMonitor
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub over a risk monitor.
func NewWSHub(m *monitor.RiskMonitor) *WSHub {
	return &WSHub{
		monitor:    m,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run subscribes to the monitor's event streams and drives the hub until the
// context ends. Must be called in a goroutine.
func (h *WSHub) Run(ctx context.Context) {
	_, states, cancelStates := h.monitor.SubscribeRiskStates(256)
	defer cancelStates()
	_, portfolios, cancelPortfolios := h.monitor.SubscribePortfolios(256)
	defer cancelPortfolios()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return

		case event := <-states:
			h.send(riskStateMessage(event))

		case event := <-portfolios:
			h.send(portfolioMessage(event))

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
			slog.Info("ws client connected", "total", total)
			h.sendSnapshot(conn)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				metrics.WebSocketClients.Dec()
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
					metrics.WebSocketClients.Dec()
				}
			}
			h.mu.Unlock()
		}
	}
}

// send queues a message for broadcast, dropping it if the buffer is full so
// the event pump never blocks the account queues.
func (h *WSHub) send(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

// sendSnapshot writes the current risk states and portfolio entries to one
// connection.
func (h *WSHub) sendSnapshot(conn *websocket.Conn) {
	for _, event := range h.monitor.RiskStates() {
		if data, err := json.Marshal(riskStateMessage(event)); err == nil {
			conn.WriteMessage(websocket.TextMessage, data)
		}
	}
	for _, event := range h.monitor.PortfolioEntries() {
		if data, err := json.Marshal(portfolioMessage(event)); err == nil {
			conn.WriteMessage(websocket.TextMessage, data)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- conn

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}
