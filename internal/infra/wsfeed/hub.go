// Package wsfeed pushes coordinator events to websocket subscribers.
package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"swap_rates/internal/rates"
)

const (
	sendBuffer = 32
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Gauge tracks connected subscribers.
type Gauge interface {
	IncrementConnections()
	DecrementConnections()
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to every connected client. Slow clients whose
// buffer fills up are disconnected.
type Hub struct {
	upgrader   websocket.Upgrader
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	clients    map[*client]struct{}
	gauge      Gauge
	logger     *slog.Logger
}

func NewHub(gauge Gauge, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default().With("module", "wsfeed")
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, sendBuffer),
		clients:    make(map[*client]struct{}),
		gauge:      gauge,
		logger:     logger,
	}
}

// Run owns the client set until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			if h.gauge != nil {
				h.gauge.IncrementConnections()
			}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Warn("Dropping slow websocket client", slog.String("remote", c.conn.RemoteAddr().String()))
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	if h.gauge != nil {
		h.gauge.DecrementConnections()
	}
}

// Handle is a rates.Handler.
func (h *Hub) Handle(ev rates.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- b:
	default:
		h.logger.Warn("Broadcast queue full, dropping", slog.String("event", string(ev.Kind)))
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", slog.Any("error", err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-r.Context().Done():
		conn.Close()
		return
	}
	go h.writer(c)
	h.reader(c)
}

// reader discards inbound frames and keeps the read deadline fresh.
func (h *Hub) reader(c *client) {
	defer func() {
		// Run may already be gone on shutdown
		select {
		case h.unregister <- c:
		case <-time.After(time.Second):
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Websocket read error", slog.Any("error", err))
			}
			return
		}
	}
}

func (h *Hub) writer(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Serve exposes the hub on addr at /ws until ctx is done. An empty addr disables it.
func (h *Hub) Serve(ctx context.Context, addr string) {
	if addr == "" {
		h.logger.Info("Websocket feed disabled")
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		h.logger.Info("Websocket feed starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("Websocket feed error", slog.Any("error", err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
