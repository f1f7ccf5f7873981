package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apirest "github.com/kasuganosora/corrosion/api/rest"
	"github.com/kasuganosora/corrosion/api/sse"
	apows "github.com/kasuganosora/corrosion/api/ws"
	"github.com/kasuganosora/corrosion/cache"
	"github.com/kasuganosora/corrosion/config"
	dbadapter "github.com/kasuganosora/corrosion/db"
	"github.com/kasuganosora/corrosion/game/bridge"
	"github.com/kasuganosora/corrosion/game/node"
	"github.com/kasuganosora/corrosion/journal"
	mw "github.com/kasuganosora/corrosion/middleware"
	"github.com/kasuganosora/corrosion/model"
	"github.com/kasuganosora/corrosion/plugin/hook"
	"github.com/kasuganosora/corrosion/plugin/script"
	"github.com/kasuganosora/corrosion/resource"
	"github.com/kasuganosora/corrosion/scheduler"
	"github.com/kasuganosora/corrosion/telemetry"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	nodeID := cfg.Server.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	logger = logger.With(zap.String("node", nodeID))

	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}
	if cfg.Security.JWTSecret == "" {
		logger.Warn("security.jwt_secret is not set; bridge tokens cannot be verified")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Tracing ----
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, nodeID)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Journal ----
	journalSvc := journal.New(db, logger, cfg.Game.JournalBatch)
	defer journalSvc.Stop(context.Background())

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized", zap.Bool("distributed", cacheConfig.Distributed()))

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	// ---- Hooks ----
	hooks := hook.NewHookCenter()
	feed := sse.NewFeed(pubsub, logger)
	feed.Attach(hooks, journal.Events)
	go feed.Run(ctx)

	rules := make([]script.Rule, 0, len(cfg.Script.Rules))
	for _, r := range cfg.Script.Rules {
		rules = append(rules, script.Rule{Name: r.Name, Event: r.Event, Source: r.Source, File: r.File})
	}
	sandbox := script.NewSandbox(cfg.Script.VMPoolSize, cfg.Script.Timeout, logger)
	ruleEngine, err := script.NewEngine(sandbox, rules, logger)
	if err != nil {
		log.Fatalf("script rules: %v", err)
	}
	ruleEngine.Attach(hooks)
	logger.Info("script rules loaded", zap.Int("count", len(ruleEngine.Rules())))

	// ---- Session ----
	world := bridge.NewWorld(bridge.DefaultSightRange)
	if cfg.Game.LayoutPath != "" {
		layout, err := resource.LoadLayout(cfg.Game.LayoutPath)
		if err != nil {
			log.Fatalf("layout: %v", err)
		}
		world.Apply(layout.Report())
		logger.Info("layout loaded", zap.String("name", layout.Name), zap.Int("nav_nodes", len(layout.NavNodes)))
	}
	n, err := node.New(node.Options{
		Config:    cfg,
		NodeID:    nodeID,
		Host:      world.Host(),
		Cache:     c,
		PubSub:    pubsub,
		Hooks:     hooks,
		Journal:   journalSvc,
		Scheduler: sched,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("node: %v", err)
	}
	if err := n.Start(ctx); err != nil {
		log.Fatalf("node start: %v", err)
	}

	// ---- WS Router ----
	wsRouter := apows.NewRouter(logger)
	apows.RegisterBridgeHandlers(wsRouter, n, world, logger)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.Tracing(nil), mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst, nil))

	adminH := apirest.NewAdminHandler(n, world, journalSvc, sched, logger)
	tokenH := apirest.NewTokenHandler(n.SessionID(), c, cfg.Security, logger)
	r.GET("/health", adminH.Health)

	api := r.Group("/api")
	{
		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Security.AdminWhitelist), mw.AdminKey(cfg.Server.AdminKey))
		adminG.GET("/creature", adminH.Creature)
		adminG.GET("/pocket", adminH.Pocket)
		adminG.GET("/encounters", adminH.Encounters)
		adminG.GET("/scheduler", adminH.Scheduler)
		adminG.POST("/tokens", tokenH.Issue)
		adminG.POST("/tokens/revoke", tokenH.Revoke)

		bridgeG := api.Group("/bridge")
		bridgeG.Use(mw.BridgeAuth(cfg.Security, c, mw.RoleHost))
		bridgeG.POST("/refresh", tokenH.Refresh)
	}

	// ---- WebSocket ----
	wsH := apows.NewHandler(n, world, cfg.Security, wsRouter, logger)
	r.GET("/ws/bridge", mw.BridgeAuth(cfg.Security, c, mw.RoleHost), wsH.ServeWS)

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, logger)
	r.GET("/sse", mw.BridgeAuth(cfg.Security, c, mw.RoleAdmin), sseH.ServeSSE)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		logger.Info("Server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	n.Stop(shutdownCtx)
}
