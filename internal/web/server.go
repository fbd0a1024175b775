package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vitos/coin_autopilot/internal/domain"
	"github.com/vitos/coin_autopilot/internal/infrastructure/events"
	"github.com/vitos/coin_autopilot/internal/usecase"
	"go.uber.org/zap"
)

// Services is everything the command surface drives.
type Services struct {
	Configs   *usecase.ConfigService
	Engines   *usecase.Engines
	Gate      *usecase.RiskGate
	Portfolio *usecase.PortfolioView
	Sentinels *usecase.SentinelService
	Sniper    *usecase.SniperService
	Mirror    *usecase.MirrorService
	DipBuyer  *usecase.DipBuyerService
	Trades    domain.TradeRepository
	// History is optional; it is set when events are mirrored to Redis.
	History   EventHistory
}

type EventHistory interface {
	Recent(ctx context.Context, limit int64) ([]map[string]any, error)
}

type Server struct {
	router    *gin.Engine
	server    *http.Server
	svc       Services
	bus       *events.Bus
	jwtSecret []byte
	logger    *zap.Logger
}

// NewServer builds the HTTP API. An empty jwtSecret leaves the API open.
func NewServer(port int, jwtSecret string, svc Services, bus *events.Bus, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		router:    gin.New(),
		svc:       svc,
		bus:       bus,
		jwtSecret: []byte(jwtSecret),
		logger:    logger,
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	// Event stream
	s.router.GET("/ws/events", s.bearerAuth(), s.handleEvents)

	api := s.router.Group("/api", s.bearerAuth())

	// Status
	api.GET("/status", s.handleStatus)

	// Engines
	api.GET("/engines", s.handleEngines)
	api.POST("/engines/:name/enable", s.handleEnableEngine)
	api.POST("/engines/:name/disable", s.handleDisableEngine)
	api.POST("/engines/:name/run", s.handleRunEngine)
	api.GET("/engines/:name/config", s.handleGetEngineConfig)
	api.PUT("/engines/:name/config", s.handleUpdateEngineConfig)

	// Risk
	api.GET("/risk-limits", s.handleGetRiskLimits)
	api.PUT("/risk-limits", s.handleUpdateRiskLimits)

	// Trades
	api.POST("/trades", s.handleManualTrade)
	api.GET("/transactions", s.handleTransactions)
	api.GET("/holdings", s.handleHoldings)

	// Sentinels
	api.GET("/sentinels", s.handleListSentinels)
	api.POST("/sentinels", s.handleCreateSentinel)
	api.GET("/sentinels/:id", s.handleGetSentinel)
	api.PUT("/sentinels/:id", s.handleUpdateSentinel)
	api.DELETE("/sentinels/:id", s.handleDeleteSentinel)
	api.PUT("/sentinels/:id/active", s.handleToggleSentinel)
	api.POST("/sentinels/pause-all", s.handlePauseAllSentinels)
	api.POST("/sentinels/resume-all", s.handleResumeAllSentinels)
	api.POST("/sentinels/apply-defaults", s.handleApplyDefaults)
	api.POST("/sentinels/sync", s.handleSyncSentinels)
	api.POST("/sentinels/cleanup", s.handleCleanupSentinels)
	api.POST("/sentinels/check", s.handleCheckSentinels)

	// Engine history
	api.GET("/sniper/sniped", s.handleListSniped)
	api.DELETE("/sniper/sniped", s.handleClearSniped)
	api.GET("/mirror/history", s.handleMirrorHistory)
	api.GET("/dipbuyer/log", s.handleDipBuyerLog)
	api.GET("/events/recent", s.handleRecentEvents)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.Method == http.MethodGet && c.Writer.Status() < http.StatusBadRequest {
			return
		}
		s.logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}
