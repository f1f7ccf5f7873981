package bridge

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendChanBuf   = 1024
	writeDeadline = 10 * time.Second
	readDeadline  = 60 * time.Second
	pingInterval  = 30 * time.Second
)

// Packet is the bridge message envelope in both directions.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Packet types sent to the host runtime.
const (
	PacketCall  = "call"
	PacketPong  = "pong"
	PacketHello = "hello"
)

// Conn is one host runtime connected over WebSocket.
type Conn struct {
	SessionID string
	NodeID    string

	Conn     *websocket.Conn
	SendChan chan []byte
	Done     chan struct{}
	TraceID  string
	LastSeq  uint64

	logger *zap.Logger
}

// NewConn wraps a WebSocket connection and starts its write goroutine.
func NewConn(sessionID, nodeID string, conn *websocket.Conn, logger *zap.Logger) *Conn {
	c := &Conn{
		SessionID: sessionID,
		NodeID:    nodeID,
		Conn:      conn,
		SendChan:  make(chan []byte, sendChanBuf),
		Done:      make(chan struct{}),
		logger:    logger,
	}
	go c.writePump()
	return c
}

// writePump drains SendChan and writes to the WebSocket connection.
// Also sends periodic pings to detect dead connections quickly.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.Conn.Close()
	for {
		select {
		case data, ok := <-c.SendChan:
			if !ok {
				return
			}
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("bridge write error",
					zap.String("node", c.NodeID),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.Done:
			_ = c.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send encodes payload under the given type and queues it without blocking.
// Packets are dropped when the queue is full or the connection closed.
func (c *Conn) Send(typ string, payload any) {
	if c.IsClosed() {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	data, err := json.Marshal(Packet{Type: typ, Payload: raw})
	if err != nil {
		return
	}
	select {
	case c.SendChan <- data:
	case <-c.Done:
	default:
		if !c.IsClosed() {
			c.logger.Warn("bridge send queue full, dropping packet",
				zap.String("node", c.NodeID),
				zap.String("type", typ))
		}
	}
}

// Deliver forwards a host call to the runtime.
func (c *Conn) Deliver(call Call) { c.Send(PacketCall, call) }

// Close signals the writePump to shut down.
func (c *Conn) Close() {
	select {
	case <-c.Done:
	default:
		close(c.Done)
	}
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	select {
	case <-c.Done:
		return true
	default:
		return false
	}
}

// SetReadDeadline resets the read deadline to 60s from now.
func (c *Conn) SetReadDeadline() {
	_ = c.Conn.SetReadDeadline(time.Now().Add(readDeadline))
}

// SendPong answers a runtime heartbeat.
func (c *Conn) SendPong(clientTS int64) {
	c.Send(PacketPong, struct {
		ClientTS int64 `json:"client_ts"`
		ServerTS int64 `json:"server_ts"`
	}{clientTS, time.Now().UnixMilli()})
}
