package dashboard

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"coinpulse/internal/marketdata"
	"coinpulse/models"
)

const (
	defaultCoinLimit = 100
	maxCoinLimit     = 1000
	defaultNewsLimit = 20
)

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

func unavailable(c *gin.Context, what string) {
	fail(c, http.StatusServiceUnavailable, what+" is not available")
}

func symbolParam(c *gin.Context) string {
	return models.CanonicalSymbol(c.Param("symbol"))
}

// marketStatus maps a market data error onto the status the API answers with.
func marketStatus(err error) int {
	var httpErr *marketdata.HTTPError
	switch {
	case errors.Is(err, marketdata.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, marketdata.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func intQuery(c *gin.Context, key string, def, max int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	if n > max {
		n = max
	}
	return n, true
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.services.Feed != nil {
		body["stream_connected"] = s.services.Feed.Status().Connected
	}
	if s.services.Prices != nil {
		body["persistence_active"] = s.services.Prices.Status().Active
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handlePrices(c *gin.Context) {
	if s.services.Prices == nil {
		unavailable(c, "price history")
		return
	}
	ok(c, s.services.Prices.AllData())
}

// handlePrice answers the full record, or one timeframe when ?timeframe= is
// set. Unknown symbols answer null data.
func (s *Server) handlePrice(c *gin.Context) {
	if s.services.Prices == nil {
		unavailable(c, "price history")
		return
	}
	symbol := symbolParam(c)
	tf := c.Query("timeframe")
	if tf == "" {
		if rec := s.services.Prices.PriceData(symbol); rec != nil {
			ok(c, rec)
			return
		}
		ok(c, nil)
		return
	}
	if _, known := models.LookupTimeframe(tf); !known {
		fail(c, http.StatusBadRequest, "unknown timeframe "+strconv.Quote(tf))
		return
	}
	if view := s.services.Prices.PriceView(symbol, tf); view != nil {
		ok(c, view)
		return
	}
	ok(c, nil)
}

func (s *Server) handleTimeframes(c *gin.Context) {
	if s.services.Prices == nil {
		ok(c, models.TimeframeNames())
		return
	}
	ok(c, s.services.Prices.Timeframes())
}

func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{}
	if s.services.Feed != nil {
		status["stream"] = s.services.Feed.Status()
	}
	if s.services.Prices != nil {
		status["persistence"] = s.services.Prices.Status()
	}
	ok(c, status)
}

func (s *Server) handleRealtimeAll(c *gin.Context) {
	if s.services.Feed == nil {
		unavailable(c, "tick stream")
		return
	}
	ok(c, s.services.Feed.RealtimeData())
}

func (s *Server) handleRealtime(c *gin.Context) {
	if s.services.Feed == nil {
		unavailable(c, "tick stream")
		return
	}
	if tick, found := s.services.Feed.Realtime(symbolParam(c)); found {
		ok(c, tick)
		return
	}
	ok(c, nil)
}

func (s *Server) handleHistorical(c *gin.Context) {
	if s.services.Changes == nil {
		unavailable(c, "historical changes")
		return
	}
	symbol := symbolParam(c)
	if symbol == "" {
		fail(c, http.StatusBadRequest, "symbol is required")
		return
	}
	ok(c, s.services.Changes.HistoricalChanges(c.Request.Context(), symbol))
}

func (s *Server) handleCoins(c *gin.Context) {
	if s.services.Market == nil {
		unavailable(c, "market data")
		return
	}
	limit, valid := intQuery(c, "limit", defaultCoinLimit, maxCoinLimit)
	if !valid {
		fail(c, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	currency := strings.ToUpper(c.DefaultQuery("currency", "USD"))

	coins, err := s.services.Market.GetCoins(c.Request.Context(), limit, currency)
	if err != nil {
		fail(c, marketStatus(err), err.Error())
		return
	}
	ok(c, coins)
}

func (s *Server) handleMarkets(c *gin.Context) {
	if s.services.Market == nil {
		unavailable(c, "market data")
		return
	}
	overview, err := s.services.Market.GetMarkets(c.Request.Context())
	if err != nil {
		fail(c, marketStatus(err), err.Error())
		return
	}
	ok(c, overview)
}

func (s *Server) handleNews(c *gin.Context) {
	if s.services.Market == nil {
		unavailable(c, "market data")
		return
	}
	limit, valid := intQuery(c, "limit", defaultNewsLimit, maxCoinLimit)
	if !valid {
		fail(c, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	news, err := s.services.Market.GetNews(c.Request.Context(), limit)
	if err != nil {
		fail(c, marketStatus(err), err.Error())
		return
	}
	ok(c, news)
}

func (s *Server) handleMetrics(c *gin.Context) {
	snapshot := s.metricStore.snapshot()
	payload := make([]gin.H, 0, len(snapshot))
	for _, m := range snapshot {
		payload = append(payload, gin.H{
			"timestamp": m.Timestamp.Format(time.RFC3339Nano),
			"component": m.Component,
			"name":      m.Name,
			"value":     m.Value,
			"type":      m.Type,
			"fields":    m.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"metrics": payload})
}

func (s *Server) handleLogs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"logs": s.logStore.snapshot()})
}

func (s *Server) handleResources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"refresh_interval_ms": s.cfg.RefreshInterval.Milliseconds(),
		"resources":           s.resourceSampler.snapshot(),
	})
}
