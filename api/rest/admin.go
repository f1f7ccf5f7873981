package rest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kasuganosora/corrosion/game/bridge"
	"github.com/kasuganosora/corrosion/game/creature"
	"github.com/kasuganosora/corrosion/game/node"
	"github.com/kasuganosora/corrosion/journal"
	"github.com/kasuganosora/corrosion/scheduler"
)

// AdminHandler serves the read-only admin endpoints.
// Routes should be protected by the AdminKey middleware.
type AdminHandler struct {
	node    *node.Node
	world   *bridge.World
	journal *journal.Service
	sched   *scheduler.Scheduler
	logger  *zap.Logger
}

// NewAdminHandler creates an AdminHandler. world, journal and sched may be nil.
func NewAdminHandler(
	n *node.Node,
	world *bridge.World,
	j *journal.Service,
	sched *scheduler.Scheduler,
	logger *zap.Logger,
) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{node: n, world: world, journal: j, sched: sched, logger: logger}
}

// Health reports liveness and the node's role.
// GET /health
func (h *AdminHandler) Health(c *gin.Context) {
	resp := gin.H{
		"status":    "ok",
		"session":   h.node.SessionID(),
		"node":      h.node.NodeID(),
		"authority": h.node.Authority(),
	}
	if h.world != nil {
		resp["bridge_attached"] = h.world.Attached()
		resp["dropped_calls"] = h.world.Dropped()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AdminHandler) snapshot(c *gin.Context) (creature.Snapshot, uint64, bool) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	s, seq, err := h.node.State(ctx)
	if err != nil {
		h.logger.Warn("admin snapshot failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session busy"})
		return s, 0, false
	}
	return s, seq, true
}

// Creature returns the creature's current state.
// GET /api/admin/creature
func (h *AdminHandler) Creature(c *gin.Context) {
	s, seq, ok := h.snapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"snapshot":  s,
		"authority": h.node.Authority(),
		"seq":       seq,
	})
}

// Pocket returns the pocket dimension occupant table.
// GET /api/admin/pocket
func (h *AdminHandler) Pocket(c *gin.Context) {
	s, _, ok := h.snapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"occupants": s.Pocket, "count": len(s.Pocket)})
}

// Encounters lists journaled events for this session, newest first.
// GET /api/admin/encounters?event=kill&player=3&limit=20
func (h *AdminHandler) Encounters(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}
	q := journal.Query{
		SessionID: c.DefaultQuery("session", h.node.SessionID()),
		Event:     c.Query("event"),
	}
	if v := c.Query("player"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid player"})
			return
		}
		q.Player = p
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		q.Limit = n
	}

	rows, err := h.journal.Recent(c.Request.Context(), q)
	if err != nil {
		h.logger.Error("journal read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	counts, err := h.journal.Count(c.Request.Context(), q.SessionID)
	if err != nil {
		h.logger.Error("journal count failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	written, dropped := h.journal.Stats()
	c.JSON(http.StatusOK, gin.H{
		"encounters": rows,
		"counts":     counts,
		"written":    written,
		"dropped":    dropped,
	})
}

// Scheduler lists the registered periodic tasks.
// GET /api/admin/scheduler
func (h *AdminHandler) Scheduler(c *gin.Context) {
	if h.sched == nil {
		c.JSON(http.StatusOK, gin.H{"tasks": []scheduler.TaskInfo{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.Tasks()})
}
