package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/atmx/portfolio-sync/internal/metrics"
	"github.com/atmx/portfolio-sync/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
)

// MessagePortfolioState is the type of a pushed snapshot.
const MessagePortfolioState = "portfolio_state"

// WSMessage is a JSON message sent to WebSocket clients. The snapshot
// fields are inlined next to the type.
type WSMessage struct {
	Type string `json:"type"`
	model.PortfolioState
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// WSHub manages WebSocket connections and pushes every new portfolio
// snapshot to all connected clients.
type WSHub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	log        zerolog.Logger
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(log zerolog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "ws_hub").Logger(),
	}
}

// Run starts the hub's main event loop until ctx is cancelled. Must be
// called in a goroutine.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = true
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			h.log.Info().Str("client_id", c.id).Int("total", len(h.clients)).Msg("ws client connected")

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.log.Info().Str("client_id", c.id).Int("total", len(h.clients)).Msg("ws client disconnected")
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow client; disconnect rather than block the hub.
					h.drop(c)
				}
			}
		}
	}
}

func (h *WSHub) drop(c *wsClient) {
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketClients.Set(float64(len(h.clients)))
}

// Publish queues a snapshot for every connected client.
func (h *WSHub) Publish(state model.PortfolioState) {
	data, err := encodeState(state)
	if err != nil {
		h.log.Error().Err(err).Msg("encode ws message")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full to avoid blocking an apply.
	}
}

func encodeState(state model.PortfolioState) ([]byte, error) {
	return json.Marshal(WSMessage{Type: MessagePortfolioState, PortfolioState: state})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Origins are enforced by the CORS layer.
	},
}

// Serve upgrades the request and registers the connection. The initial
// snapshot is sent before any broadcast.
func (h *WSHub) Serve(w http.ResponseWriter, r *http.Request, initial model.PortfolioState) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("ws upgrade failed")
		return
	}

	c := &wsClient{id: uuid.New().String(), conn: conn, send: make(chan []byte, sendBuffer)}
	if data, err := encodeState(initial); err == nil {
		c.send <- data
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// readPump keeps the connection alive and detects disconnects.
func (h *WSHub) readPump(c *wsClient) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer of c.conn. It also pings to keep the
// connection alive through proxies.
func (h *WSHub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
