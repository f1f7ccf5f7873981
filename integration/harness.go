// Package integration runs whole nodes over real HTTP and WebSocket
// connections. The wiring mirrors main.go.
package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	apirest "github.com/kasuganosora/corrosion/api/rest"
	apows "github.com/kasuganosora/corrosion/api/ws"
	"github.com/kasuganosora/corrosion/cache"
	"github.com/kasuganosora/corrosion/config"
	"github.com/kasuganosora/corrosion/game/bridge"
	"github.com/kasuganosora/corrosion/game/node"
	"github.com/kasuganosora/corrosion/journal"
	mw "github.com/kasuganosora/corrosion/middleware"
	"github.com/kasuganosora/corrosion/plugin/hook"
	"github.com/kasuganosora/corrosion/scheduler"
	"github.com/kasuganosora/corrosion/testutil"
)

const (
	adminKey  = "integration-admin"
	jwtSecret = "integration-test-secret"
)

// Cluster is a set of nodes sharing one database, cache and pub/sub bus, as
// nodes sharing a Redis would.
type Cluster struct {
	DB     *gorm.DB
	Cache  cache.Cache
	PubSub cache.PubSub
	Config *config.Config
}

// NewCluster creates the shared infrastructure for one session.
func NewCluster(t *testing.T, sessionID string) *Cluster {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Game.SessionID = sessionID
	cfg.Game.LeaseTTLS = 1
	cfg.Server.AdminKey = adminKey
	cfg.Security = config.SecurityConfig{
		JWTSecret:      jwtSecret,
		JWTTTLH:        time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
	}

	c, ps := testutil.SetupTestCache(t)
	return &Cluster{DB: testutil.SetupTestDB(t), Cache: c, PubSub: ps, Config: cfg}
}

// TestNode is one running node with its HTTP surface.
type TestNode struct {
	Node   *node.Node
	World  *bridge.World
	Sched  *scheduler.Scheduler
	Server *httptest.Server
	URL    string
	WSURL  string
}

// AddNode starts a node and its HTTP server.
func (cl *Cluster) AddNode(t *testing.T, nodeID string) *TestNode {
	t.Helper()
	logger := zap.NewNop()
	cfg := *cl.Config

	j := journal.New(cl.DB, logger, 1)
	t.Cleanup(func() { j.Stop(context.Background()) })
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	world := bridge.NewWorld(bridge.DefaultSightRange)
	n, err := node.New(node.Options{
		Config:    &cfg,
		NodeID:    nodeID,
		Host:      world.Host(),
		Cache:     cl.Cache,
		PubSub:    cl.PubSub,
		Hooks:     hook.NewHookCenter(),
		Journal:   j,
		Scheduler: sched,
		Logger:    logger,
	})
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() { n.Stop(context.Background()) })

	wsRouter := apows.NewRouter(logger)
	apows.RegisterBridgeHandlers(wsRouter, n, world, logger)

	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst, nil))

	adminH := apirest.NewAdminHandler(n, world, j, sched, logger)
	tokenH := apirest.NewTokenHandler(n.SessionID(), cl.Cache, cfg.Security, logger)
	r.GET("/health", adminH.Health)
	adminG := r.Group("/api/admin", mw.AdminKey(cfg.Server.AdminKey))
	adminG.GET("/creature", adminH.Creature)
	adminG.GET("/pocket", adminH.Pocket)
	adminG.GET("/encounters", adminH.Encounters)
	adminG.GET("/scheduler", adminH.Scheduler)
	adminG.POST("/tokens", tokenH.Issue)
	adminG.POST("/tokens/revoke", tokenH.Revoke)

	wsH := apows.NewHandler(n, world, cfg.Security, wsRouter, logger)
	r.GET("/ws/bridge", mw.BridgeAuth(cfg.Security, cl.Cache, mw.RoleHost), wsH.ServeWS)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &TestNode{
		Node:   n,
		World:  world,
		Sched:  sched,
		Server: srv,
		URL:    srv.URL,
		WSURL:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/bridge",
	}
}

// Admin performs an admin request and decodes the JSON response.
func (tn *TestNode) Admin(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, tn.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Key", adminKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

// IssueToken asks the admin API for a host bridge token.
func (tn *TestNode) IssueToken(t *testing.T, runtimeID string) string {
	t.Helper()
	code, body := tn.Admin(t, http.MethodPost, "/api/admin/tokens", `{"node_id":"`+runtimeID+`"}`)
	require.Equal(t, http.StatusOK, code)
	tok, _ := body["token"].(string)
	require.NotEmpty(t, tok)
	return tok
}

// Health returns the decoded /health body.
func (tn *TestNode) Health(t *testing.T) map[string]any {
	t.Helper()
	resp, err := http.Get(tn.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// Runtime is a fake host runtime connected over the bridge.
type Runtime struct {
	t    *testing.T
	conn *websocket.Conn
	seq  uint64
}

// Dial connects a host runtime with the given token.
func (tn *TestNode) Dial(t *testing.T, token string) (*Runtime, *http.Response, error) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(tn.WSURL+"?token="+token, nil)
	if err != nil {
		return nil, resp, err
	}
	t.Cleanup(func() { conn.Close() })
	return &Runtime{t: t, conn: conn}, resp, nil
}

// Send writes one packet with the next sequence number.
func (rt *Runtime) Send(typ string, payload any) {
	rt.t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(rt.t, err)
	rt.seq++
	raw, err := json.Marshal(bridge.Packet{Seq: rt.seq, Type: typ, Payload: body})
	require.NoError(rt.t, err)
	require.NoError(rt.t, rt.conn.WriteMessage(websocket.TextMessage, raw))
}

// Next reads packets until match accepts one.
func (rt *Runtime) Next(match func(bridge.Packet) bool) bridge.Packet {
	rt.t.Helper()
	require.NoError(rt.t, rt.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, raw, err := rt.conn.ReadMessage()
		require.NoError(rt.t, err)
		var pkt bridge.Packet
		require.NoError(rt.t, json.Unmarshal(raw, &pkt))
		if match(pkt) {
			return pkt
		}
	}
}

// Close drops the connection.
func (rt *Runtime) Close() { rt.conn.Close() }

// OfType matches packets by type.
func OfType(typ string) func(bridge.Packet) bool {
	return func(p bridge.Packet) bool { return p.Type == typ }
}
