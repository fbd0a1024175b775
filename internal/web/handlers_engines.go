package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vitos/coin_autopilot/internal/domain"
)

func (s *Server) handleStatus(c *gin.Context) {
	engines, err := s.svc.Engines.Status(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	p := s.svc.Portfolio.Snapshot()
	total := 0.0
	for _, h := range p.Holdings {
		total += h.Value
	}
	data := gin.H{
		"engines":             engines,
		"holdings":            len(p.Holdings),
		"portfolio_value":     total,
		"portfolio_refreshed": s.svc.Portfolio.RefreshedAt(),
	}
	if s.bus != nil {
		data["event_subscribers"] = s.bus.Subscribers()
		data["events_dropped"] = s.bus.Dropped()
	}
	Ok(c, data, nil)
}

func (s *Server) handleEngines(c *gin.Context) {
	engines, err := s.svc.Engines.Status(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, engines, nil)
}

func (s *Server) handleEnableEngine(c *gin.Context) {
	name := c.Param("name")
	if err := s.svc.Engines.Enable(c.Request.Context(), name); err != nil {
		fail(c, err)
		return
	}
	Ok(c, gin.H{"name": name, "enabled": true}, nil)
}

func (s *Server) handleDisableEngine(c *gin.Context) {
	name := c.Param("name")
	if err := s.svc.Engines.Disable(c.Request.Context(), name); err != nil {
		fail(c, err)
		return
	}
	Ok(c, gin.H{"name": name, "enabled": false}, nil)
}

// handleRunEngine runs one tick now. The result is the tick summary when it ran inline.
func (s *Server) handleRunEngine(c *gin.Context) {
	result, err := s.svc.Engines.RunNow(c.Request.Context(), c.Param("name"))
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, result, nil)
}

func (s *Server) handleGetEngineConfig(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		cfg any
		err error
	)
	switch c.Param("name") {
	case domain.ConfigSentinel:
		cfg, err = s.svc.Configs.Sentinel(ctx)
	case domain.ConfigSniper:
		cfg, err = s.svc.Configs.Sniper(ctx)
	case domain.ConfigMirror:
		cfg, err = s.svc.Configs.Mirror(ctx)
	case domain.ConfigDipBuyer:
		cfg, err = s.svc.Configs.DipBuyer(ctx)
	default:
		Error(c, http.StatusNotFound, "unknown engine", nil)
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, cfg, nil)
}

func (s *Server) handleUpdateEngineConfig(c *gin.Context) {
	ctx := c.Request.Context()
	switch c.Param("name") {
	case domain.ConfigSentinel:
		var cfg domain.SentinelConfig
		if !bind(c, &cfg) {
			return
		}
		saved, err := s.svc.Configs.UpdateSentinel(ctx, cfg)
		respond(c, saved, err)
	case domain.ConfigSniper:
		var cfg domain.SniperConfig
		if !bind(c, &cfg) {
			return
		}
		saved, err := s.svc.Configs.UpdateSniper(ctx, cfg)
		respond(c, saved, err)
	case domain.ConfigMirror:
		var cfg domain.MirrorConfig
		if !bind(c, &cfg) {
			return
		}
		saved, err := s.svc.Configs.UpdateMirror(ctx, cfg)
		respond(c, saved, err)
	case domain.ConfigDipBuyer:
		var cfg domain.DipBuyerConfig
		if !bind(c, &cfg) {
			return
		}
		saved, err := s.svc.Configs.UpdateDipBuyer(ctx, cfg)
		respond(c, saved, err)
	default:
		Error(c, http.StatusNotFound, "unknown engine", nil)
	}
}

func (s *Server) handleGetRiskLimits(c *gin.Context) {
	limits, err := s.svc.Configs.RiskLimits(c.Request.Context())
	respond(c, limits, err)
}

func (s *Server) handleUpdateRiskLimits(c *gin.Context) {
	var limits domain.RiskLimits
	if !bind(c, &limits) {
		return
	}
	saved, err := s.svc.Configs.UpdateRiskLimits(c.Request.Context(), limits)
	respond(c, saved, err)
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		Error(c, http.StatusBadRequest, "invalid json: "+err.Error(), nil)
		return false
	}
	return true
}

func respond(c *gin.Context, data any, err error) {
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, data, nil)
}
