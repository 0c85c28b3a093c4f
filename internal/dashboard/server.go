package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"coinpulse/config"
	"coinpulse/internal/metrics"
	"coinpulse/logger"
	"coinpulse/models"
)

// PriceSource is the aggregated price state, normally the snapshot writer.
type PriceSource interface {
	AllData() models.Snapshot
	PriceData(symbol string) *models.SymbolRecord
	PriceView(symbol, timeframe string) *models.PriceView
	Timeframes() []string
	Status() models.PersistenceStatus
}

// FeedSource is the live tick stream.
type FeedSource interface {
	Status() models.ConnectionStatus
	RealtimeData() map[string]models.Tick
	Realtime(symbol string) (models.Tick, bool)
}

type ChangeSource interface {
	HistoricalChanges(ctx context.Context, symbol string) models.ChangeResult
}

type MarketSource interface {
	GetCoins(ctx context.Context, limit int, currency string) ([]models.Coin, error)
	GetMarkets(ctx context.Context) (*models.MarketOverview, error)
	GetNews(ctx context.Context, limit int) ([]models.NewsItem, error)
}

// Services groups what the API reads from. Nil members answer 503.
type Services struct {
	Prices  PriceSource
	Feed    FeedSource
	Changes ChangeSource
	Market  MarketSource
}

// Server hosts the gin JSON API of coinpulse.
type Server struct {
	cfg             config.DashboardConfig
	log             *logger.Log
	services        Services
	metricStore     *metricStore
	logStore        *logStore
	metricHandler   metrics.MetricHandlerID
	httpServer      *http.Server
	resourceSampler *resourceSampler
	startedAt       time.Time
}

// NewServer returns nil when the dashboard is disabled.
func NewServer(cfg config.DashboardConfig, log *logger.Log, services Services) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}
	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}

	store := newMetricStore(cfg.MetricsHistory)
	logs := newLogStore(cfg.LogHistory)
	log.AddHook(logs)

	return &Server{
		cfg:             cfg,
		log:             log,
		services:        services,
		metricStore:     store,
		logStore:        logs,
		metricHandler:   metrics.RegisterMetricHandler(store.handle),
		resourceSampler: newResourceSampler(cfg.MetricsHistory, cfg.RefreshInterval, "/", log),
		startedAt:       time.Now(),
	}, nil
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	router, err := s.buildRouter()
	if err != nil {
		return err
	}
	s.resourceSampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": s.cfg.Address}).Info("starting http api")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
	if s.resourceSampler != nil {
		s.resourceSampler.stop()
	}
}

// Address reports the normalised listen address.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	api := router.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/prices", s.handlePrices)
	api.GET("/prices/:symbol", s.handlePrice)
	api.GET("/timeframes", s.handleTimeframes)
	api.GET("/status", s.handleStatus)
	api.GET("/realtime", s.handleRealtimeAll)
	api.GET("/realtime/:symbol", s.handleRealtime)
	api.GET("/historical/:symbol", s.handleHistorical)
	api.GET("/coins", s.handleCoins)
	api.GET("/markets", s.handleMarkets)
	api.GET("/news", s.handleNews)
	api.GET("/metrics", s.handleMetrics)
	api.GET("/logs", s.handleLogs)
	api.GET("/resources", s.handleResources)

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	return router, nil
}

// requestLogger logs every API call at debug and failures at warn.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := s.log.WithComponent("dashboard").WithFields(logger.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("api request failed")
			return
		}
		entry.Debug("api request")
	}
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if parsed.Host != "" {
				addr = parsed.Host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") && len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
		return "0.0.0.0" + addr
	}

	if host, port, err := net.SplitHostPort(addr); err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil || !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}
	return addr
}
