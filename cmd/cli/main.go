// The CLI drives pipeline operations by hand: ingesting a message, running
// one dispatcher, poller or sweep pass, and inspecting balances. Each
// command is a single short-lived invocation of the same components the
// worker runs on a schedule.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ibimina/saccopay/internal/app"
	"github.com/ibimina/saccopay/internal/config"
	"github.com/ibimina/saccopay/internal/logger"
	"github.com/ibimina/saccopay/internal/models"
	"github.com/ibimina/saccopay/internal/payments"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "saccopay",
		Short:         "Operate the payment ingestion and reconciliation pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(
		newIngestCmd(&configPath),
		newDispatchCmd(&configPath),
		newPollCmd(&configPath),
		newSweepCmd(&configPath),
		newBalanceCmd(&configPath),
	)
	return root
}

// bootstrap assembles the application for one command invocation.
func bootstrap(ctx context.Context, configPath string) (*app.App, error) {
	log := logger.New()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, log)
}

func newIngestCmd(configPath *string) *cobra.Command {
	var (
		channel string
		sender  string
		body    string
		saccoID string
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest one raw payment message",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			application, err := bootstrap(ctx, *configPath)
			if err != nil {
				return err
			}
			defer application.Close()

			input := payments.IngestInput{Channel: channel, Sender: sender, Body: body}
			if saccoID != "" {
				id, err := uuid.Parse(saccoID)
				if err != nil {
					return fmt.Errorf("invalid --sacco-id: %w", err)
				}
				input.SaccoID = id
			}

			result, err := application.Payments.IngestMessage(ctx, input)
			if err != nil {
				return err
			}
			fmt.Printf("message %s: %s", result.MessageID, result.Status)
			if result.Duplicate {
				fmt.Print(" (duplicate)")
			}
			if result.ParseErr != "" {
				fmt.Printf(" (%s)", result.ParseErr)
			}
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "SMS", "origin channel")
	cmd.Flags().StringVar(&sender, "sender", "", "sender identifier")
	cmd.Flags().StringVar(&body, "body", "", "raw message body")
	cmd.Flags().StringVar(&saccoID, "sacco-id", "", "fallback sacco when the reference does not resolve one")
	cmd.MarkFlagRequired("body")
	return cmd
}

func newDispatchCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Run one notification dispatch pass per channel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			application, err := bootstrap(ctx, *configPath)
			if err != nil {
				return err
			}
			defer application.Close()

			for _, channel := range []models.NotificationChannel{models.ChannelWhatsApp, models.ChannelEmail} {
				stats, err := application.Dispatcher.RunOnce(ctx, channel)
				if err != nil {
					return err
				}
				fmt.Printf("%s: claimed=%d delivered=%d retried=%d failed=%d\n",
					channel, stats.Claimed, stats.Delivered, stats.Retried, stats.Failed)
			}
			return nil
		},
	}
}

func newPollCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Poll all active statement sources and drain reconciliation jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			application, err := bootstrap(ctx, *configPath)
			if err != nil {
				return err
			}
			defer application.Close()

			stats, err := application.Poller.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("polled: sources=%d staged=%d jobs=%d failures=%d\n",
				stats.Processed, stats.Staged, stats.Jobs, stats.Failures)

			jobStats, err := application.Recon.RunOnce(ctx, application.Cfg.SweepBatchSize)
			if err != nil {
				return err
			}
			fmt.Printf("reconciled: completed=%d failed=%d\n", jobStats.Completed, jobStats.Failed)
			return nil
		},
	}
}

func newSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Retry stale messages and escalate stale payments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			application, err := bootstrap(ctx, *configPath)
			if err != nil {
				return err
			}
			defer application.Close()

			cfg := application.Cfg
			result, err := application.Payments.SweepStaleMessages(ctx, cfg.StaleMessageAge, cfg.SweepBatchSize)
			if err != nil {
				return err
			}
			fmt.Printf("messages: claimed=%d applied=%d failed=%d\n",
				result.Claimed, result.Applied, result.Failed)

			escalated, err := application.Payments.EscalateStalePayments(ctx, cfg.EscalationAge, cfg.SweepBatchSize)
			if err != nil {
				return err
			}
			fmt.Printf("escalations queued: %d\n", escalated)
			return nil
		},
	}
}

func newBalanceCmd(configPath *string) *cobra.Command {
	var currency string

	cmd := &cobra.Command{
		Use:   "balance <owner-type> <owner-id>",
		Short: "Show a ledger account balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			application, err := bootstrap(ctx, *configPath)
			if err != nil {
				return err
			}
			defer application.Close()

			ownerType := models.AccountOwnerType(args[0])
			ownerID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid owner id: %w", err)
			}

			account, err := application.Store.FindAccount(ctx, ownerType, ownerID, currency)
			if err != nil {
				return fmt.Errorf("account lookup: %w", err)
			}
			balance, err := application.Ledger.Balance(ctx, account.ID)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s: %s %s\n", ownerType, ownerID, balance.String(), currency)
			return nil
		},
	}

	cmd.Flags().StringVar(&currency, "currency", "RWF", "account currency")
	return cmd
}
