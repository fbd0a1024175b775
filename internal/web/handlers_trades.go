package web

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vitos/coin_autopilot/internal/domain"
)

type manualTradeRequest struct {
	Symbol    string           `json:"symbol"`
	Direction domain.Direction `json:"direction"`
	// Amount is USD for buys and coins for sells.
	Amount float64 `json:"amount"`
}

// handleManualTrade sends a user trade through the risk gate like any engine trade.
func (s *Server) handleManualTrade(c *gin.Context) {
	var body manualTradeRequest
	if !bind(c, &body) {
		return
	}
	body.Symbol = strings.ToUpper(strings.TrimSpace(body.Symbol))
	body.Direction = domain.Direction(strings.ToUpper(string(body.Direction)))
	if body.Symbol == "" || !body.Direction.Valid() || body.Amount <= 0 {
		Error(c, http.StatusBadRequest, "symbol, direction (BUY/SELL) and a positive amount are required", nil)
		return
	}

	req := domain.TradeRequest{
		Symbol:    body.Symbol,
		Direction: body.Direction,
		Amount:    body.Amount,
		UsdValue:  body.Amount,
		Source:    domain.SourceManual,
		Reason:    "manual",
	}
	if body.Direction == domain.DirectionSell {
		h, ok := s.svc.Portfolio.Snapshot().Find(body.Symbol)
		if !ok {
			p, err := s.svc.Portfolio.Refresh(c.Request.Context())
			if err != nil {
				fail(c, err)
				return
			}
			h, ok = p.Find(body.Symbol)
		}
		if !ok || h.Quantity <= 0 {
			Error(c, http.StatusUnprocessableEntity, "no holding for "+body.Symbol, nil)
			return
		}
		req.UsdValue = body.Amount * h.CurrentPrice
	}

	rec, err := s.svc.Gate.Submit(c.Request.Context(), req)
	respond(c, rec, err)
}

func (s *Server) handleTransactions(c *gin.Context) {
	page := pageQuery(c)
	list, total, err := s.svc.Trades.ListTransactions(c.Request.Context(), c.Query("source"), page)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, list, pageMeta(page, total))
}

func (s *Server) handleHoldings(c *gin.Context) {
	p := s.svc.Portfolio.Snapshot()
	if c.Query("refresh") == "1" || s.svc.Portfolio.RefreshedAt().IsZero() {
		fresh, err := s.svc.Portfolio.Refresh(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		p = fresh
	}
	Ok(c, p.Holdings, map[string]any{"refreshed_at": s.svc.Portfolio.RefreshedAt()})
}

func (s *Server) handleListSniped(c *gin.Context) {
	page := pageQuery(c)
	list, total, err := s.svc.Sniper.ListSniped(c.Request.Context(), page)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, list, pageMeta(page, total))
}

func (s *Server) handleClearSniped(c *gin.Context) {
	n, err := s.svc.Sniper.ClearSniped(c.Request.Context())
	respond(c, gin.H{"deleted": n}, err)
}

func (s *Server) handleMirrorHistory(c *gin.Context) {
	page := pageQuery(c)
	list, total, err := s.svc.Mirror.History(c.Request.Context(), page)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, list, pageMeta(page, total))
}

func (s *Server) handleDipBuyerLog(c *gin.Context) {
	page := pageQuery(c)
	list, total, err := s.svc.DipBuyer.Log(c.Request.Context(), page)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, list, pageMeta(page, total))
}

func (s *Server) handleRecentEvents(c *gin.Context) {
	if s.svc.History == nil {
		Error(c, http.StatusServiceUnavailable, "event history requires events.redis_addr", nil)
		return
	}
	list, err := s.svc.History.Recent(c.Request.Context(), int64(intQuery(c, "limit", 50)))
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, list, map[string]any{"total": len(list)})
}
