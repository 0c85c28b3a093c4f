package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"coinpulse/config"
	"coinpulse/internal/cache"
	"coinpulse/internal/channel"
	"coinpulse/internal/dashboard"
	"coinpulse/internal/marketdata"
	"coinpulse/internal/metrics"
	"coinpulse/logger"
	"coinpulse/processor"
	"coinpulse/reader/binance"
	"coinpulse/reader/tickstream"
	"coinpulse/writer"
)

// tickSource is a live feed the aggregator consumes and the API reads.
type tickSource interface {
	Start(ctx context.Context) error
	Stop()
	dashboard.FeedSource
}

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Parse()

	path := config.ResolvePath(*configPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"path": path}).Error("failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("failed to configure logger")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": env,
		"config":      path,
	}).Info("starting coinpulse")

	metrics.Init()

	// appCtx outlives the signal so the shutdown sequence can drain in order.
	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()
	sigCtx, stopSignals := signal.NotifyContext(appCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(appCtx, log, cfg.Metrics.ReportInterval)
	}
	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(appCtx, cfg.Storage.S3.Region, cfg.Metrics.Namespace)
	}

	channels := channel.NewChannels(cfg.Channels.TickBuffer)
	metrics.StartChannelSizeMetrics(appCtx, channels, cfg.Metrics.ReportInterval)

	aggregator := processor.NewAggregator(cfg, channels.Ticks)
	rollup := processor.NewRollupJob(aggregator, cfg.Aggregator.RollupInterval)

	store, err := writer.NewDocumentStore(appCtx, cfg)
	if err != nil {
		if config.IsProductionLike(env) {
			log.WithError(err).Error("failed to create document store")
			os.Exit(1)
		}
		log.WithError(err).Warn("document store unavailable, running without persistence")
		store = nil
	}
	archive, err := writer.NewArchive(appCtx, cfg)
	if err != nil {
		log.WithError(err).Warn("history archive unavailable")
		archive = nil
	}
	snapshots := writer.NewSnapshotWriter(cfg, store, aggregator, archive)
	publisher := writer.NewPricePublisher(cfg.Storage.Kafka)
	if publisher != nil {
		snapshots.SetPublisher(publisher)
		defer publisher.Close()
	}
	snapshots.Load(appCtx)

	historyCache, err := cache.New(cfg.Market.Cache)
	if err != nil {
		log.WithError(err).Warn("historical cache backend unavailable, using memory")
		historyCache = cache.NewMemory()
	}
	defer historyCache.Close()

	market := marketdata.NewClient(cfg.Market)
	historical := marketdata.NewHistorical(market, historyCache, cfg.Market)
	changes := processor.NewChangeService(aggregator, historical, cfg.Market.HistoryPeriod)

	var stream tickSource
	switch cfg.Stream.Provider {
	case "binance":
		stream = binance.NewStatsReader(cfg, channels)
	default:
		stream = tickstream.NewClient(cfg, channels)
	}

	if err := aggregator.Start(appCtx); err != nil {
		log.WithError(err).Error("failed to start aggregator")
		os.Exit(1)
	}
	if err := rollup.Start(appCtx); err != nil {
		log.WithError(err).Warn("rollup job failed to start")
	}
	if store != nil {
		if err := snapshots.Start(appCtx); err != nil {
			log.WithError(err).Warn("snapshot writer failed to start")
		}
	}
	if err := stream.Start(appCtx); err != nil {
		log.WithError(err).WithFields(logger.Fields{"provider": cfg.Stream.Provider}).Warn("tick stream failed to start")
	}

	server, err := dashboard.NewServer(cfg.Dashboard, log, dashboard.Services{
		Prices:  snapshots,
		Feed:    stream,
		Changes: changes,
		Market:  market,
	})
	if err != nil {
		log.WithError(err).Error("failed to create http api")
		os.Exit(1)
	}

	serverCtx, stopServer := context.WithCancel(appCtx)
	defer stopServer()
	g, gctx := errgroup.WithContext(serverCtx)
	g.Go(func() error { return server.Run(gctx) })

	log.WithFields(logger.Fields{"address": server.Address()}).Info("all components started")

	select {
	case <-sigCtx.Done():
		log.Info("shutdown signal received")
	case <-gctx.Done():
		log.Warn("http api exited, shutting down")
	}

	timeout := cfg.App.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
	defer cancelShutdown()

	done := make(chan struct{})
	go func() {
		defer close(done)

		log.Info("stopping tick stream")
		stream.Stop()

		// closing the channel lets the aggregator drain what is buffered
		channels.Close()
		aggregator.Stop()

		if store != nil {
			log.Info("writing final snapshot")
			if err := snapshots.Stop(shutdownCtx); err != nil {
				log.WithError(err).Error("final snapshot failed")
			}
		}

		cancelApp()
		rollup.Stop()

		stopServer()
		if err := g.Wait(); err != nil {
			log.WithError(err).Error("http api stopped with error")
		}
	}()

	select {
	case <-done:
		log.Info("shutdown complete")
	case <-shutdownCtx.Done():
		log.WithFields(logger.Fields{"timeout": timeout.String()}).Warn("shutdown timed out, exiting")
	}
}
