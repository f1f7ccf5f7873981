package ws

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kasuganosora/corrosion/config"
	"github.com/kasuganosora/corrosion/game/bridge"
	"github.com/kasuganosora/corrosion/game/node"
	mw "github.com/kasuganosora/corrosion/middleware"
)

// Handler is the Gin handler for GET /ws/bridge. Each node serves a single
// host runtime; a new connection replaces the previous one.
type Handler struct {
	node     *node.Node
	world    *bridge.World
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	active *bridge.Conn
}

// NewHandler creates a new bridge Handler.
// sec.AllowedOrigins controls which WebSocket origins are accepted.
// An empty slice permits all origins (development only).
func NewHandler(n *node.Node, world *bridge.World, sec config.SecurityConfig, router *Router, logger *zap.Logger) *Handler {
	h := &Handler{
		node:   n,
		world:  world,
		router: router,
		logger: logger,
	}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

type hello struct {
	Session   string `json:"session"`
	Node      string `json:"node"`
	Authority bool   `json:"authority"`
}

// ServeWS upgrades an authenticated host runtime. BridgeAuth must run first.
func (h *Handler) ServeWS(c *gin.Context) {
	claims := mw.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	if claims.SessionID != h.node.SessionID() {
		c.JSON(http.StatusForbidden, gin.H{"error": "token is for another session"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}

	conn := bridge.NewConn(claims.SessionID, claims.NodeID, ws, h.logger)
	h.attach(conn)
	conn.Send(bridge.PacketHello, hello{
		Session:   h.node.SessionID(),
		Node:      h.node.NodeID(),
		Authority: h.node.Authority(),
	})
	h.logger.Info("host runtime connected", zap.String("runtime", claims.NodeID))
	h.readPump(c.Request.Context(), conn)
}

// Connected reports whether a host runtime is attached.
func (h *Handler) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active != nil
}

func (h *Handler) attach(conn *bridge.Conn) {
	h.mu.Lock()
	prev := h.active
	h.active = conn
	h.mu.Unlock()
	if prev != nil {
		prev.Close()
		h.logger.Warn("host runtime replaced", zap.String("previous", prev.NodeID))
	}
	h.world.Attach(conn)
}

func (h *Handler) detach(conn *bridge.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active != conn {
		return
	}
	h.active = nil
	h.world.Attach(nil)
}

// readPump reads messages from the WebSocket connection and dispatches them.
func (h *Handler) readPump(ctx context.Context, conn *bridge.Conn) {
	defer func() {
		h.detach(conn)
		conn.Close()
		h.logger.Info("host runtime disconnected", zap.String("runtime", conn.NodeID))
	}()

	conn.SetReadDeadline()
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.String("runtime", conn.NodeID),
					zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline()
		h.router.Dispatch(ctx, conn, raw)
	}
}
