package web

import (
	"github.com/gin-gonic/gin"
	"github.com/vitos/coin_autopilot/internal/domain"
	"github.com/vitos/coin_autopilot/internal/usecase"
)

func (s *Server) handleListSentinels(c *gin.Context) {
	list, err := s.svc.Sentinels.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, list, map[string]any{"total": len(list)})
}

func (s *Server) handleCreateSentinel(c *gin.Context) {
	var req usecase.CreateSentinelRequest
	if !bind(c, &req) {
		return
	}
	sen, err := s.svc.Sentinels.Create(c.Request.Context(), req)
	respond(c, sen, err)
}

func (s *Server) handleGetSentinel(c *gin.Context) {
	sen, err := s.svc.Sentinels.Get(c.Request.Context(), c.Param("id"))
	respond(c, sen, err)
}

func (s *Server) handleUpdateSentinel(c *gin.Context) {
	var t domain.SentinelThresholds
	if !bind(c, &t) {
		return
	}
	sen, err := s.svc.Sentinels.Update(c.Request.Context(), c.Param("id"), t)
	respond(c, sen, err)
}

func (s *Server) handleDeleteSentinel(c *gin.Context) {
	id := c.Param("id")
	if err := s.svc.Sentinels.Delete(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	Ok(c, gin.H{"id": id, "deleted": true}, nil)
}

func (s *Server) handleToggleSentinel(c *gin.Context) {
	var body struct {
		Active bool `json:"active"`
	}
	if !bind(c, &body) {
		return
	}
	id := c.Param("id")
	if err := s.svc.Sentinels.Toggle(c.Request.Context(), id, body.Active); err != nil {
		fail(c, err)
		return
	}
	Ok(c, gin.H{"id": id, "active": body.Active}, nil)
}

func (s *Server) handlePauseAllSentinels(c *gin.Context) {
	n, err := s.svc.Sentinels.PauseAll(c.Request.Context())
	respond(c, gin.H{"updated": n}, err)
}

func (s *Server) handleResumeAllSentinels(c *gin.Context) {
	n, err := s.svc.Sentinels.ResumeAll(c.Request.Context())
	respond(c, gin.H{"updated": n}, err)
}

func (s *Server) handleApplyDefaults(c *gin.Context) {
	n, err := s.svc.Sentinels.ApplyDefaultsToAll(c.Request.Context())
	respond(c, gin.H{"updated": n}, err)
}

func (s *Server) handleSyncSentinels(c *gin.Context) {
	res, err := s.svc.Sentinels.Sync(c.Request.Context())
	respond(c, res, err)
}

func (s *Server) handleCleanupSentinels(c *gin.Context) {
	n, err := s.svc.Sentinels.CleanupTriggered(c.Request.Context())
	respond(c, gin.H{"deleted": n}, err)
}

func (s *Server) handleCheckSentinels(c *gin.Context) {
	summary, err := s.svc.Sentinels.CheckNow(c.Request.Context())
	respond(c, summary, err)
}
