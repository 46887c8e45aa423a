// Package app assembles the pipeline from configuration: store, parser
// chain, services, dispatcher and poller. The API server, the worker and
// the CLI all bootstrap through it.
package app

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ibimina/saccopay/internal/audit"
	"github.com/ibimina/saccopay/internal/config"
	"github.com/ibimina/saccopay/internal/crypto"
	"github.com/ibimina/saccopay/internal/events/kafka"
	"github.com/ibimina/saccopay/internal/ledger"
	"github.com/ibimina/saccopay/internal/metrics"
	"github.com/ibimina/saccopay/internal/notify"
	"github.com/ibimina/saccopay/internal/parser"
	"github.com/ibimina/saccopay/internal/payments"
	"github.com/ibimina/saccopay/internal/poller"
	"github.com/ibimina/saccopay/internal/ratelimit"
	"github.com/ibimina/saccopay/internal/reference"
	"github.com/ibimina/saccopay/internal/storage"
	"github.com/ibimina/saccopay/internal/storage/postgres"
)

// App holds the assembled components.
type App struct {
	Cfg        config.Config
	Log        zerolog.Logger
	Store      storage.Store
	Payments   *payments.Service
	Ledger     *ledger.Service
	Limiter    *ratelimit.Limiter
	Dispatcher *notify.Dispatcher
	Poller     *poller.Poller
	Recon      *poller.JobRunner

	db        *sql.DB
	publisher *kafka.Publisher
}

// New assembles the application. Model parser tiers and the Kafka publisher
// are optional: without API keys the chain is regex-only, without brokers
// events are dropped.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("app: DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("app: open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("app: ping database: %w", err)
	}
	store := postgres.NewStore(db)

	protector, err := buildProtector(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	chain, err := buildChain(ctx, cfg, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	var events payments.EventPublisher = payments.NopPublisher{}
	var publisher *kafka.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		events = publisher
	}

	auditor := audit.NewStoreRecorder(store, log)
	recorder := metrics.NewStoreRecorder(store, log)
	ledgerSvc := ledger.NewService(store, log)

	paymentsSvc := payments.NewService(payments.Config{
		Store:     store,
		Chain:     chain,
		Resolver:  reference.NewResolver(store),
		Ledger:    ledgerSvc,
		Protector: protector,
		Auditor:   auditor,
		Metrics:   recorder,
		Events:    events,
		Logger:    log,
		Currency:  cfg.DefaultCurrency,
	})

	dispatcher := notify.NewDispatcher(notify.Config{
		Store:    store,
		WhatsApp: notify.NewHTTPWhatsAppSender(cfg.WhatsAppEndpoint, cfg.WhatsAppToken),
		Email:    notify.NewSMTPSender(cfg.SMTPAddr, cfg.SMTPFrom),
		Limiter:  ratelimit.New(store, cfg.NotifyRateLimit, cfg.NotifyRateWindow),
		Revealer: protector,
		Auditor:  auditor,
		Metrics:  recorder,
		Logger:   log,
	})

	statementPoller := poller.New(poller.Config{
		Store:   store,
		Fetcher: poller.NewHTTPFetcher(25*time.Second, 100),
		Metrics: recorder,
		Logger:  log,
	})

	return &App{
		Cfg:        cfg,
		Log:        log,
		Store:      store,
		Payments:   paymentsSvc,
		Ledger:     ledgerSvc,
		Limiter:    ratelimit.New(store, cfg.IngestRateLimit, cfg.IngestRateWindow),
		Dispatcher: dispatcher,
		Poller:     statementPoller,
		Recon:      poller.NewJobRunner(store, paymentsSvc, log),
		db:         db,
		publisher:  publisher,
	}, nil
}

// Close releases the database and event publisher.
func (a *App) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("Close publisher failed")
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

func buildProtector(cfg config.Config) (*crypto.FieldProtector, error) {
	encKey, err := hex.DecodeString(cfg.EncryptionKeyHex)
	if err != nil {
		return nil, fmt.Errorf("app: decode PII_ENCRYPTION_KEY: %w", err)
	}
	hashKey, err := hex.DecodeString(cfg.HashKeyHex)
	if err != nil {
		return nil, fmt.Errorf("app: decode PII_HASH_KEY: %w", err)
	}
	return crypto.NewFieldProtector(encKey, hashKey)
}

// buildChain assembles the parse tiers: regex always, then whichever model
// tiers have credentials configured, in fallback order.
func buildChain(ctx context.Context, cfg config.Config, log zerolog.Logger) (*parser.Chain, error) {
	var tiers []parser.Strategy
	if cfg.GeminiAPIKey != "" {
		gemini, err := parser.NewGeminiStrategy(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("app: gemini strategy: %w", err)
		}
		tiers = append(tiers, gemini)
	}
	if cfg.OpenAIAPIKey != "" {
		tiers = append(tiers, parser.NewOpenAIStrategy(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL))
	}
	if len(tiers) == 0 {
		log.Warn().Msg("No model parser tiers configured, running regex only")
	}
	return parser.NewChain(parser.NewRegexStrategy(), tiers...), nil
}
