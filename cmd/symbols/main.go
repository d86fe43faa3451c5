package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	appconfig "coinflow/config"
	"coinflow/internal/coinalyze"
	"coinflow/logger"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	base := flag.String("base", "", "Filter by base-asset substring, e.g. BTC")
	flag.Parse()

	cfg, err := appconfig.LoadConfig(appconfig.ResolvePath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := coinalyze.NewClient(cfg)
	markets, err := client.FutureMarkets(ctx)
	if err != nil {
		log.WithError(err).Error("failed to list future markets")
		os.Exit(1)
	}

	filter := strings.ToUpper(*base)
	for _, m := range markets {
		if filter != "" && !strings.Contains(strings.ToUpper(m.BaseAsset), filter) {
			continue
		}
		fmt.Println(m.Exchange, m.Symbol, m.BaseAsset, m.QuoteAsset)
	}
}
