package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kasuganosora/corrosion/config"
	mw "github.com/kasuganosora/corrosion/middleware"
	"github.com/kasuganosora/corrosion/plugin/hook"
	"github.com/kasuganosora/corrosion/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestFeed_PublishesHookEvents(t *testing.T) {
	_, ps := testutil.SetupTestCache(t)
	msgs, unsub, err := ps.Subscribe(context.Background(), Topic("s1"))
	require.NoError(t, err)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed := NewFeed(ps, zap.NewNop())
	go feed.Run(ctx)

	hc := hook.NewHookCenter()
	feed.Attach(hc, []string{hook.OnPlayerKilled})
	_, err = hc.Trigger(context.Background(), hook.OnPlayerKilled, hook.Event{Session: "s1", Node: "n1", Player: 3})
	require.NoError(t, err)
	_, err = hc.Trigger(context.Background(), hook.OnPocketEnter, hook.Event{Session: "s1", Player: 4})
	require.NoError(t, err)

	select {
	case m := <-msgs:
		var e Entry
		require.NoError(t, json.Unmarshal([]byte(m.Payload), &e))
		assert.Equal(t, hook.OnPlayerKilled, e.Name)
		assert.Equal(t, 3, e.Player)
		assert.Equal(t, "n1", e.Node)
	case <-time.After(2 * time.Second):
		t.Fatal("no feed message")
	}
	select {
	case m := <-msgs:
		t.Fatalf("unexpected message %s", m.Payload)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Zero(t, feed.Dropped())
}

func TestServeSSE_StreamsSessionFeed(t *testing.T) {
	c, ps := testutil.SetupTestCache(t)
	sec := config.SecurityConfig{JWTSecret: "sse-secret"}
	h := NewHandler(ps, zap.NewNop())

	r := gin.New()
	r.GET("/sse", mw.BridgeAuth(sec, c, mw.RoleAdmin), h.ServeSSE)
	srv := httptest.NewServer(r)
	defer srv.Close()

	tok, err := mw.GenerateToken("s1", "dash", mw.RoleAdmin, sec.JWTSecret, time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse?token="+tok, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		require.True(t, lines.Scan())
		return lines.Text()
	}
	assert.Equal(t, "event: connected", next())
	assert.Equal(t, `data: {"session":"s1"}`, next())
	next()

	require.NoError(t, ps.Publish(context.Background(), Topic("other"), `{"event":"skip"}`))
	require.NoError(t, ps.Publish(context.Background(), Topic("s1"), `{"event":"on_player_killed"}`))
	assert.Equal(t, "event: encounter", next())
	assert.True(t, strings.Contains(next(), "on_player_killed"))
}

func TestServeSSE_RejectsHostRole(t *testing.T) {
	c, ps := testutil.SetupTestCache(t)
	sec := config.SecurityConfig{JWTSecret: "sse-secret"}
	r := gin.New()
	r.GET("/sse", mw.BridgeAuth(sec, c, mw.RoleAdmin), NewHandler(ps, nil).ServeSSE)

	tok, err := mw.GenerateToken("s1", "runtime", mw.RoleHost, sec.JWTSecret, time.Hour)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sse?token="+tok, nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
