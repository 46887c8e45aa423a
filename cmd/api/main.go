package main

import (
	"context"
	"flag"

	"github.com/ibimina/saccopay/internal/api"
	"github.com/ibimina/saccopay/internal/app"
	"github.com/ibimina/saccopay/internal/config"
	"github.com/ibimina/saccopay/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()
	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to assemble application")
	}
	defer application.Close()

	server := api.NewServer(api.Config{
		Payments: application.Payments,
		Ledger:   application.Ledger,
		Store:    application.Store,
		Limiter:  application.Limiter,
		Logger:   log,
	})

	addr := ":" + cfg.HTTPPort
	log.Info().Str("addr", addr).Msg("Starting API server")
	if err := server.Run(addr); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}
