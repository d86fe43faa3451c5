package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	appconfig "coinflow/config"
	"coinflow/internal/coinalyze"
	"coinflow/internal/collector"
	"coinflow/internal/notify"
	"coinflow/internal/sink"
	"coinflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	symbol := flag.String("symbol", "", "Trading symbol to collect (overrides config)")
	interval := flag.String("interval", "", "History interval token (overrides config)")
	flag.Parse()

	cfg, err := appconfig.LoadConfig(appconfig.ResolvePath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}
	if *symbol != "" {
		cfg.Collector.Symbol = *symbol
	}
	if *interval != "" {
		cfg.Collector.Interval = *interval
	}
	if cfg.Collector.Symbol == "" {
		log.Error("no symbol configured: set collector.symbol, SYMBOL, or --symbol")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Coinflow.Name,
		"version": cfg.Coinflow.Version,
		"symbol":  cfg.Collector.Symbol,
	}).Info("starting coinflow")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var mirror *sink.S3Mirror
	if cfg.Storage.S3.Enabled {
		mirror, err = sink.NewS3Mirror(cfg)
		if err != nil {
			log.WithError(err).Error("failed to create S3 mirror")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 mirroring disabled")
	}

	snk, err := sink.New(cfg.Storage.DataDir, mirror)
	if err != nil {
		log.WithError(err).Error("failed to prepare data directories")
		os.Exit(1)
	}

	client := coinalyze.NewClient(cfg)
	poster := notify.NewPoster(cfg.Webhook)

	c := collector.New(cfg, client, snk, poster)
	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("collector terminated")
		os.Exit(1)
	}

	log.Info("graceful shutdown complete")
}
