package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kasuganosora/corrosion/cache"
	"github.com/kasuganosora/corrosion/config"
	mw "github.com/kasuganosora/corrosion/middleware"
)

// TokenHandler issues and revokes host bridge tokens for one session.
type TokenHandler struct {
	sessionID string
	cache     cache.Cache
	sec       config.SecurityConfig
	logger    *zap.Logger
}

// NewTokenHandler creates a TokenHandler.
func NewTokenHandler(sessionID string, c cache.Cache, sec config.SecurityConfig, logger *zap.Logger) *TokenHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenHandler{sessionID: sessionID, cache: c, sec: sec, logger: logger}
}

type issueRequest struct {
	NodeID string `json:"node_id" binding:"required,min=1,max=64"`
	Role   string `json:"role"`
}

// Issue handles POST /api/admin/tokens.
func (h *TokenHandler) Issue(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role := req.Role
	if role == "" {
		role = mw.RoleHost
	}
	if role != mw.RoleHost && role != mw.RoleAdmin {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	token, err := mw.GenerateToken(h.sessionID, req.NodeID, role, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	h.logger.Info("bridge token issued", zap.String("node", req.NodeID), zap.String("role", role))
	c.JSON(http.StatusOK, gin.H{
		"token":   token,
		"session": h.sessionID,
		"expires": time.Now().Add(h.sec.JWTTTLH).Unix(),
	})
}

type revokeRequest struct {
	Token string `json:"token" binding:"required"`
}

// Revoke handles POST /api/admin/tokens/revoke.
func (h *TokenHandler) Revoke(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := mw.ParseToken(req.Token, h.sec.JWTSecret)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token"})
		return
	}
	if err := h.revoke(c, claims); err != nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": claims.ID})
}

// Refresh handles POST /api/bridge/refresh. The caller's token is revoked and
// a new one with the same claims is returned.
func (h *TokenHandler) Refresh(c *gin.Context) {
	claims := mw.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.revoke(c, claims); err != nil {
		return
	}
	token, err := mw.GenerateToken(claims.SessionID, claims.NodeID, claims.Role, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *TokenHandler) revoke(c *gin.Context, claims *mw.Claims) error {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := mw.Revoke(ctx, h.cache, claims); err != nil {
		h.logger.Error("token revoke failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "revoke unavailable"})
		return err
	}
	h.logger.Info("bridge token revoked",
		zap.String("jti", claims.ID),
		zap.String("node", claims.NodeID))
	return nil
}
