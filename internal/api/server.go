package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/premiumcollect/premiumcollect/internal/auth"
	"github.com/premiumcollect/premiumcollect/internal/config"
	"github.com/premiumcollect/premiumcollect/internal/handlers"
	"github.com/premiumcollect/premiumcollect/internal/logger"
	"github.com/premiumcollect/premiumcollect/internal/middleware"
	"github.com/premiumcollect/premiumcollect/internal/models"
	"github.com/premiumcollect/premiumcollect/internal/realtime"
	"github.com/premiumcollect/premiumcollect/internal/repository"
	"github.com/premiumcollect/premiumcollect/internal/service"
)

// Version is reported by /api/health.
var Version = "dev"

type Server struct {
	config     *config.Config
	db         *sql.DB
	ginRouter  *gin.Engine
	httpServer *http.Server
	hub        *realtime.Hub

	apiKeyAuth  *auth.APIKeyService
	sessions    *auth.SessionService
	ginJWTAuth  *middleware.GinJWTAuth
	rateLimiter *middleware.KeyRateLimiter

	webhookHandler     *handlers.WebhookHandler
	captiveAPIHandler  *handlers.CaptiveAPIHandler
	staffAuthHandler   *handlers.StaffAuthHandler
	cellCaptiveHandler *handlers.CellCaptiveHandler
	apiKeyHandler      *handlers.APIKeyManagementHandler
	collectionHandler  *handlers.CollectionHandler
	systemHandler      *handlers.SystemHandler

	logger *zap.Logger
}

// dbPinger adapts *sql.DB to handlers.Pinger.
type dbPinger struct {
	db *sql.DB
}

func (p dbPinger) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// NewServer wires the services and routes. A nil db starts the server in
// demo mode: health and the live session endpoints work, everything that
// needs the database answers 503.
func NewServer(cfg *config.Config, db *sql.DB) *Server {
	s := &Server{
		config: cfg,
		db:     db,
		logger: logger.Named("api"),
	}

	repo := repository.NewStore(db)
	store := service.NewStore(repo)

	s.sessions = auth.NewSessionService(repo, cfg.JWTSecret, cfg.JWTTTL)
	s.apiKeyAuth = auth.NewAPIKeyService(repo, cfg.APIKeyPrefix)
	s.ginJWTAuth = middleware.NewGinJWTAuth(s.sessions)
	s.rateLimiter = middleware.NewKeyRateLimiter(cfg.WebhookRateLimitRPS, cfg.WebhookRateLimitBurst)
	s.hub = realtime.NewHub(s.sessions)

	audit := service.NewAuditService(repo)
	webhookLogs := service.NewWebhookLogService(repo)
	resolver := service.NewCollectionResolver()

	updates := service.NewCollectionUpdateService(store, resolver, audit, s.hub, cfg.BulkMaxItems)
	policies := service.NewPolicyService(store, audit, s.hub)
	captives := service.NewCaptiveService(store, audit, s.hub)
	keys := service.NewAPIKeyManagementService(store, audit, cfg.APIKeyPrefix)
	queries := service.NewCollectionQueryService(store, resolver, audit, s.hub)

	var pinger handlers.Pinger
	if db != nil {
		pinger = dbPinger{db: db}
	}

	s.webhookHandler = handlers.NewWebhookHandler(updates, policies, queries, webhookLogs)
	s.captiveAPIHandler = handlers.NewCaptiveAPIHandler(captives, policies, queries, updates)
	s.staffAuthHandler = handlers.NewStaffAuthHandler(s.sessions)
	s.cellCaptiveHandler = handlers.NewCellCaptiveHandler(captives)
	s.apiKeyHandler = handlers.NewAPIKeyManagementHandler(keys)
	s.collectionHandler = handlers.NewCollectionHandler(queries, updates)
	s.systemHandler = handlers.NewSystemHandler(pinger, s.hub, Version)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s.ginRouter = gin.New()
	s.setupRoutes()
	return s
}

// Hub exposes the live event hub so the caller can attach a relay.
func (s *Server) Hub() *realtime.Hub {
	return s.hub
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.ginRouter
}

func (s *Server) databaseAvailable() bool {
	return s.db != nil
}

func (s *Server) setupRoutes() {
	r := s.ginRouter

	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.Metrics())
	r.Use(middleware.Timeout(s.config.RequestTimeout))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{s.config.FrontendURL},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Accept", "Origin", "X-Requested-With", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	needsDB := middleware.RequireDatabase(s.databaseAvailable)

	// Webhooks and the captive API authenticate with a cell captive API key.
	webhooks := r.Group("/api/webhooks", needsDB, middleware.APIKeyAuth(s.apiKeyAuth), s.rateLimiter.Middleware())
	webhooks.POST("/collections/update", middleware.RequirePermission(auth.ScopeCollectionsWrite), s.webhookHandler.UpdateCollection)
	webhooks.POST("/collections/bulk-update", middleware.RequirePermission(auth.ScopeCollectionsWrite), s.webhookHandler.BulkUpdateCollections)
	webhooks.POST("/policies/update", middleware.RequirePermission(auth.ScopePoliciesWrite), s.webhookHandler.UpsertPolicy)
	webhooks.GET("/logs", middleware.RequirePermission(auth.ScopeLogsRead), s.webhookHandler.ListLogs)

	captive := r.Group("/api/captive", needsDB, middleware.APIKeyAuth(s.apiKeyAuth), s.rateLimiter.Middleware())
	captive.GET("/info", s.captiveAPIHandler.Info)
	captive.GET("/policies", middleware.RequirePermission(auth.ScopePoliciesRead), s.captiveAPIHandler.Policies)
	captive.GET("/collections", middleware.RequirePermission(auth.ScopeCollectionsRead), s.captiveAPIHandler.Collections)
	captive.POST("/collections", middleware.RequirePermission(auth.ScopeCollectionsWrite), s.captiveAPIHandler.CreateCollection)
	captive.PATCH("/collections/:reference", middleware.RequirePermission(auth.ScopeCollectionsWrite), s.captiveAPIHandler.UpdateCollection)
	captive.GET("/statistics", s.captiveAPIHandler.Statistics)

	// Staff routes authenticate with a JWT.
	r.POST("/api/auth/login", needsDB, s.staffAuthHandler.Login)

	staff := r.Group("/api", s.ginJWTAuth.RequireAuth())
	adminOrManager := s.ginJWTAuth.RequireRole(models.RoleAdmin, models.RoleManager)
	adminOnly := s.ginJWTAuth.RequireRole(models.RoleAdmin)

	staff.GET("/auth/me", needsDB, s.staffAuthHandler.Me)
	staff.POST("/auth/register", needsDB, adminOnly, s.staffAuthHandler.Register)
	staff.GET("/ws/clients", adminOnly, s.systemHandler.WSClients)

	captives := staff.Group("/cell-captives", needsDB)
	captives.GET("", s.cellCaptiveHandler.List)
	captives.GET("/:id", s.cellCaptiveHandler.Get)
	captives.GET("/:id/stats", s.cellCaptiveHandler.Stats)
	captives.POST("", adminOrManager, s.cellCaptiveHandler.Create)
	captives.PATCH("/:id", adminOrManager, s.cellCaptiveHandler.Update)
	captives.DELETE("/:id", adminOnly, s.cellCaptiveHandler.Delete)

	keys := staff.Group("/keys", needsDB)
	keys.POST("/generate", adminOrManager, s.apiKeyHandler.Generate)
	keys.GET("", adminOnly, s.apiKeyHandler.List)
	keys.GET("/cell-captive/:id", s.apiKeyHandler.ListForCaptive)
	keys.PATCH("/:id/revoke", adminOrManager, s.apiKeyHandler.Revoke)
	keys.DELETE("/:id", adminOnly, s.apiKeyHandler.Delete)

	collections := staff.Group("/collections", needsDB)
	collections.GET("", s.collectionHandler.List)
	collections.GET("/stats", s.collectionHandler.Stats)
	collections.POST("", s.collectionHandler.Create)
	collections.PATCH("/:id/status", s.collectionHandler.UpdateStatus)

	staff.GET("/reconciliation", needsDB, s.collectionHandler.Reconciliations)

	r.GET("/api/health", s.systemHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", gin.WrapF(s.hub.ServeWS))

	s.logger.Info("✅ Routes registered", zap.Bool("database", s.databaseAvailable()))
}

// Start listens on the configured port and blocks until Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              ":" + s.config.Port,
		Handler:           s.ginRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("🚀 Starting server",
		zap.String("port", s.config.Port),
		zap.String("environment", s.config.Environment),
		zap.Bool("demo_mode", !s.databaseAvailable()),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and disconnects live sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if cerr := s.hub.Close(); cerr != nil && err == nil {
		err = cerr
	}
	s.logger.Info("🛑 Server stopped")
	return err
}
