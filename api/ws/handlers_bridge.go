package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kasuganosora/corrosion/game/bridge"
	"github.com/kasuganosora/corrosion/game/creature"
	"github.com/kasuganosora/corrosion/game/host"
	"github.com/kasuganosora/corrosion/game/node"
)

// Packet types the host runtime sends.
const (
	MsgPing       = "ping"
	MsgWorld      = "world"
	MsgCollide    = "collide"
	MsgHit        = "hit"
	MsgNoise      = "noise"
	MsgPlayerLeft = "player_left"
	MsgBoundary   = "boundary"
	MsgKneel      = "kneel"
)

// ErrSessionBusy is returned when the session inbox cannot take more work.
var ErrSessionBusy = errors.New("ws: session inbox full")

type playerMsg struct {
	Player host.PlayerID `json:"player"`
}

type noiseMsg struct {
	Position host.Vec3 `json:"position"`
	Loudness float64   `json:"loudness"`
}

type kneelMsg struct {
	Player   host.PlayerID `json:"player"`
	Kneeling bool          `json:"kneeling"`
}

type pingMsg struct {
	ClientTS int64 `json:"client_ts"`
}

// BridgeHandlers turns host runtime reports into session input.
type BridgeHandlers struct {
	node   *node.Node
	world  *bridge.World
	logger *zap.Logger
}

// RegisterBridgeHandlers wires every host runtime message onto r.
func RegisterBridgeHandlers(r *Router, n *node.Node, world *bridge.World, logger *zap.Logger) *BridgeHandlers {
	h := &BridgeHandlers{node: n, world: world, logger: logger}
	r.On(MsgPing, h.Ping)
	r.On(MsgWorld, h.World)
	r.On(MsgCollide, h.Collide)
	r.On(MsgHit, h.Hit)
	r.On(MsgNoise, h.Noise)
	r.On(MsgPlayerLeft, h.PlayerLeft)
	r.On(MsgBoundary, h.Boundary)
	r.On(MsgKneel, h.Kneel)
	return h
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return errors.New("empty payload")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// run queues fn onto the session goroutine. Errors surface in the log since
// the packet has already been acknowledged by then.
func (h *BridgeHandlers) run(ctx context.Context, op string, fn func(c *creature.Creature) error) error {
	traceID := TraceIDFromCtx(ctx)
	ok := h.node.Do(func(c *creature.Creature) {
		if err := fn(c); err != nil {
			h.logger.Warn("bridge input failed",
				zap.String("op", op),
				zap.String("trace_id", traceID),
				zap.Error(err))
		}
	})
	if !ok {
		return ErrSessionBusy
	}
	return nil
}

// Ping answers the runtime heartbeat.
func (h *BridgeHandlers) Ping(_ context.Context, conn *bridge.Conn, payload json.RawMessage) error {
	var m pingMsg
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &m); err != nil {
			return err
		}
	}
	conn.SendPong(m.ClientTS)
	return nil
}

// World merges a world report into the mirror.
func (h *BridgeHandlers) World(_ context.Context, _ *bridge.Conn, payload json.RawMessage) error {
	var r bridge.Report
	if err := decode(payload, &r); err != nil {
		return err
	}
	h.world.Apply(r)
	return nil
}

// Collide reports the creature touching a player.
func (h *BridgeHandlers) Collide(ctx context.Context, _ *bridge.Conn, payload json.RawMessage) error {
	var m playerMsg
	if err := decode(payload, &m); err != nil {
		return err
	}
	return h.run(ctx, MsgCollide, func(c *creature.Creature) error {
		_, err := c.Collide(m.Player)
		return err
	})
}

// Hit reports a player striking the creature.
func (h *BridgeHandlers) Hit(ctx context.Context, _ *bridge.Conn, payload json.RawMessage) error {
	var m playerMsg
	if err := decode(payload, &m); err != nil {
		return err
	}
	return h.run(ctx, MsgHit, func(c *creature.Creature) error { return c.Hit(m.Player) })
}

// Noise reports a sound the creature may investigate.
func (h *BridgeHandlers) Noise(ctx context.Context, _ *bridge.Conn, payload json.RawMessage) error {
	var m noiseMsg
	if err := decode(payload, &m); err != nil {
		return err
	}
	return h.run(ctx, MsgNoise, func(c *creature.Creature) error {
		_, err := c.HearNoise(m.Position, m.Loudness)
		return err
	})
}

// PlayerLeft drops a disconnected player from the mirror and the session.
func (h *BridgeHandlers) PlayerLeft(ctx context.Context, _ *bridge.Conn, payload json.RawMessage) error {
	var m playerMsg
	if err := decode(payload, &m); err != nil {
		return err
	}
	h.world.Apply(bridge.Report{Removed: []host.PlayerID{m.Player}})
	return h.run(ctx, MsgPlayerLeft, func(c *creature.Creature) error { return c.PlayerLeft(m.Player) })
}

// Boundary reports a player reaching a pocket room exit.
func (h *BridgeHandlers) Boundary(ctx context.Context, _ *bridge.Conn, payload json.RawMessage) error {
	var m playerMsg
	if err := decode(payload, &m); err != nil {
		return err
	}
	return h.run(ctx, MsgBoundary, func(c *creature.Creature) error { return c.Pocket().ReportBoundary(m.Player) })
}

// Kneel reports a player's posture in the throne room.
func (h *BridgeHandlers) Kneel(ctx context.Context, _ *bridge.Conn, payload json.RawMessage) error {
	var m kneelMsg
	if err := decode(payload, &m); err != nil {
		return err
	}
	return h.run(ctx, MsgKneel, func(c *creature.Creature) error {
		return c.Pocket().ReportPosture(m.Player, m.Kneeling)
	})
}
