// Package ws pushes render notifications to attached UI clients.
package ws

import (
	"net/http"
	"sync"
	"time"

	"peerboard/internal/core/domain"
	"peerboard/internal/core/ports"
	"peerboard/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	EventRender   = "render"
	EventDeselect = "deselect"

	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 60 * time.Second
	defaultWriteTimeout = 10 * time.Second
	eventBuffer         = 32
	maxInboundBytes     = 512
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type Event struct {
	Type     string          `json:"type"`
	ObjectID domain.ObjectID `json:"objectId,omitempty"`
}

type Config struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
}

type client struct {
	id     string
	conn   *websocket.Conn
	render chan struct{}
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		id:     utils.GenerateID("ui"),
		conn:   conn,
		render: make(chan struct{}, 1),
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// RenderBridge implements ports.Renderer over WebSocket. Render requests
// are coalesced per client: a client that has not yet been told to render
// is not told twice.
type RenderBridge struct {
	cfg Config

	mu      sync.RWMutex
	clients map[string]*client

	logger *zap.SugaredLogger
}

var (
	_ ports.Renderer            = (*RenderBridge)(nil)
	_ ports.RenderSocketHandler = (*RenderBridge)(nil)
)

func NewRenderBridge(cfg Config, logger *zap.SugaredLogger) *RenderBridge {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &RenderBridge{
		cfg:     cfg,
		clients: make(map[string]*client),
		logger:  logger,
	}
}

func (b *RenderBridge) SetupRoutes(router *gin.Engine, middleware ...gin.HandlerFunc) {
	handlers := append(middleware, b.HandleConnection)
	router.GET("/ws/render", handlers...)
}

// Render never blocks.
func (b *RenderBridge) Render() {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, c := range b.clients {
		select {
		case c.render <- struct{}{}:
		default:
		}
	}
}

// Deselect tells every client to drop its selection of id. Clients whose
// buffer is full miss the event and are expected to resync on render.
func (b *RenderBridge) Deselect(id domain.ObjectID) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, c := range b.clients {
		select {
		case c.events <- Event{Type: EventDeselect, ObjectID: id}:
		default:
			b.logger.Warnw("render client is slow, dropping deselect", "client_id", c.id, "object_id", id)
		}
	}
}

func (b *RenderBridge) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client.
func (b *RenderBridge) Close() {
	b.mu.Lock()
	clients := b.clients
	b.clients = make(map[string]*client)
	b.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (b *RenderBridge) register(c *client) {
	b.mu.Lock()
	b.clients[c.id] = c
	b.mu.Unlock()

	// the first render lets the client load the current board
	select {
	case c.render <- struct{}{}:
	default:
	}
}

func (b *RenderBridge) unregister(c *client) {
	b.mu.Lock()
	delete(b.clients, c.id)
	b.mu.Unlock()
	c.close()
}

func (b *RenderBridge) HandleConnection(ctx *gin.Context) {
	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		b.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := newClient(conn)
	b.register(c)
	defer b.unregister(c)
	b.logger.Infow("render client connected", "client_id", c.id, "remote_addr", ctx.Request.RemoteAddr)

	go b.readPump(c)
	b.writePump(c)

	b.logger.Infow("render client disconnected", "client_id", c.id)
}

// readPump discards inbound data and keeps the read deadline fresh.
func (b *RenderBridge) readPump(c *client) {
	defer c.close()

	c.conn.SetReadLimit(maxInboundBytes)
	c.conn.SetReadDeadline(time.Now().Add(b.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(b.cfg.PongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Debugw("render client read failed", "client_id", c.id, "error", err)
			}
			return
		}
	}
}

func (b *RenderBridge) writePump(c *client) {
	pingTicker := time.NewTicker(b.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-c.render:
			if err := b.write(c, Event{Type: EventRender}); err != nil {
				return
			}

		case ev := <-c.events:
			if err := b.write(c, ev); err != nil {
				return
			}

		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				b.logger.Debugw("error sending ping", "client_id", c.id, "error", err)
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (b *RenderBridge) write(c *client, ev Event) error {
	c.conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
	if err := c.conn.WriteJSON(ev); err != nil {
		b.logger.Debugw("render client write failed", "client_id", c.id, "event", ev.Type, "error", err)
		return err
	}
	return nil
}
