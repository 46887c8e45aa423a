// The worker runs the pipeline's background loops: the notification
// dispatcher, the statement poller with its reconciliation job drain, and
// the maintenance sweep. Each loop ticks independently and one failing tick
// never stops the loop.
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/ibimina/saccopay/internal/app"
	"github.com/ibimina/saccopay/internal/config"
	"github.com/ibimina/saccopay/internal/logger"
	"github.com/ibimina/saccopay/internal/models"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to assemble application")
	}
	defer application.Close()

	log.Info().
		Dur("dispatch_interval", cfg.DispatchInterval).
		Dur("poll_interval", cfg.PollInterval).
		Dur("sweep_interval", cfg.SweepInterval).
		Msg("Starting worker")

	dispatchLog := logger.ForComponent(log, "dispatcher")
	go runLoop(ctx, cfg.DispatchInterval, func(ctx context.Context) {
		for _, channel := range []models.NotificationChannel{models.ChannelWhatsApp, models.ChannelEmail} {
			stats, err := application.Dispatcher.RunOnce(ctx, channel)
			if err != nil {
				dispatchLog.Error().Err(err).Str("channel", string(channel)).Msg("Dispatch tick failed")
				continue
			}
			if stats.Claimed > 0 {
				dispatchLog.Info().
					Str("channel", string(channel)).
					Int("delivered", stats.Delivered).
					Int("retried", stats.Retried).
					Int("failed", stats.Failed).
					Msg("Dispatch tick finished")
			}
		}
	})

	pollLog := logger.ForComponent(log, "poller")
	go runLoop(ctx, cfg.PollInterval, func(ctx context.Context) {
		if _, err := application.Poller.RunOnce(ctx); err != nil {
			pollLog.Error().Err(err).Msg("Poll tick failed")
			return
		}
		if _, err := application.Recon.RunOnce(ctx, cfg.SweepBatchSize); err != nil {
			pollLog.Error().Err(err).Msg("Reconciliation drain failed")
		}
	})

	sweepLog := logger.ForComponent(log, "sweep")
	go runLoop(ctx, cfg.SweepInterval, func(ctx context.Context) {
		if _, err := application.Payments.SweepStaleMessages(ctx, cfg.StaleMessageAge, cfg.SweepBatchSize); err != nil {
			sweepLog.Error().Err(err).Msg("Message sweep failed")
		}
		if _, err := application.Payments.EscalateStalePayments(ctx, cfg.EscalationAge, cfg.SweepBatchSize); err != nil {
			sweepLog.Error().Err(err).Msg("Payment escalation failed")
		}
	})

	<-ctx.Done()
	log.Info().Msg("Shutting down worker")
}

// runLoop ticks fn at the interval until the context is cancelled. The
// first tick fires immediately.
func runLoop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	fn(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
