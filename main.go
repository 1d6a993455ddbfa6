package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Prabhat-190/trade/book"
	"github.com/Prabhat-190/trade/config"
	"github.com/Prabhat-190/trade/estimator"
	"github.com/Prabhat-190/trade/features"
	"github.com/Prabhat-190/trade/internal/channel"
	"github.com/Prabhat-190/trade/internal/metrics"
	"github.com/Prabhat-190/trade/latency"
	"github.com/Prabhat-190/trade/logger"
	"github.com/Prabhat-190/trade/reader"
	"github.com/Prabhat-190/trade/reader/binance"
	"github.com/Prabhat-190/trade/reader/bybit"
	"github.com/Prabhat-190/trade/reader/kucoin"
	"github.com/Prabhat-190/trade/reader/okx"
	"github.com/Prabhat-190/trade/server"
	"github.com/Prabhat-190/trade/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Trade.Name,
		"version": cfg.Trade.Version,
		"venue":   cfg.Feed.Source,
		"symbol":  cfg.FeedSymbol(),
	}).Info("starting trade estimator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}
	if cfg.Storage.S3.Enabled {
		logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Trade.Name, cfg.Logging.DashboardName)
	}
	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Addr)
	} else {
		metrics.Init("")
	}

	channels := channel.NewChannels(
		cfg.Channels.UpdateBuffer,
		cfg.Channels.RecordBuffer,
	)
	defer channels.Close()

	go channels.StartMetricsReporting(ctx)
	go metrics.StartChannelSizeMetrics(ctx, channels, 15*time.Second)

	extractor := features.NewExtractor(cfg.Features)
	ticks := latency.NewTracker(cfg.Latency.WindowSize)

	keeper := book.NewKeeper(cfg, channels, extractor, ticks)

	source, err := newSource(cfg)
	if err != nil {
		log.WithError(err).Error("failed to build feed source")
		os.Exit(1)
	}
	feed := reader.NewFeed(cfg, channels, source, keeper.ResyncSignal())

	svc := estimator.NewService(cfg, channels, keeper, extractor, ticks)

	var capture *writer.CaptureWriter
	if cfg.Writer.Enabled && cfg.Storage.S3.Enabled {
		capture, err = writer.NewCaptureWriter(cfg, channels)
		if err != nil {
			log.WithError(err).Error("failed to create capture writer")
			os.Exit(1)
		}
	} else if cfg.Writer.Enabled {
		log.WithComponent("main").Warn("writer enabled without S3 storage; estimate capture disabled")
	}

	apiServer, err := server.NewServer(cfg.Server, svc, feed, channels, log)
	if err != nil {
		log.WithError(err).Error("failed to create api server")
		os.Exit(1)
	}

	if err := keeper.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start book keeper")
		os.Exit(1)
	}
	if err := feed.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start feed")
		os.Exit(1)
	}
	if capture != nil {
		if err := capture.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start capture writer")
			os.Exit(1)
		}
	}

	serverErr := make(chan error, 1)
	if apiServer != nil {
		go func() {
			serverErr <- apiServer.Run(ctx)
		}()
		log.WithComponent("main").WithFields(logger.Fields{"addr": apiServer.Address()}).Info("api server serving")
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverExited := false
	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-serverErr:
		serverExited = true
		if err != nil {
			log.WithError(err).Error("api server failed")
		}
	}

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping feed")
	feed.Stop()

	log.Info("stopping book keeper")
	keeper.Stop()

	if capture != nil {
		log.Info("stopping capture writer")
		capture.Stop()
	}

	if apiServer != nil && !serverExited {
		<-serverErr
	}

	log.Info("shutdown complete")
}

// newSource selects the venue transport named by feed.source.
func newSource(cfg *config.Config) (reader.Source, error) {
	switch cfg.Feed.Source {
	case "okx":
		return okx.New(cfg), nil
	case "binance":
		return binance.New(cfg), nil
	case "kucoin":
		return kucoin.New(cfg), nil
	case "bybit":
		return bybit.New(cfg), nil
	default:
		return nil, fmt.Errorf("unknown feed source %q", cfg.Feed.Source)
	}
}
