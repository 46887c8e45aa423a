// Package payments is the core workflow: it turns parsed transactions into
// deduplicated payment records, posts matched payments to the ledger, routes
// unmatched ones to the exception queue, and applies staff resolution
// actions.
package payments

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/ibimina/saccopay/internal/audit"
	"github.com/ibimina/saccopay/internal/crypto"
	"github.com/ibimina/saccopay/internal/ledger"
	"github.com/ibimina/saccopay/internal/metrics"
	"github.com/ibimina/saccopay/internal/models"
	"github.com/ibimina/saccopay/internal/parser"
	"github.com/ibimina/saccopay/internal/reference"
	"github.com/ibimina/saccopay/internal/storage"
)

var (
	// ErrForbidden is returned when an actor acts outside their sacco scope.
	ErrForbidden = errors.New("payments: forbidden")
	// ErrNoOpenException is returned when a resolution action targets a
	// payment with no open exception.
	ErrNoOpenException = errors.New("payments: no open exception for payment")
	// ErrGroupRequired is returned by ASSIGN without a group and by APPROVE
	// on a payment that has no group attached.
	ErrGroupRequired = errors.New("payments: group required")
	// ErrNotSettleable is returned when settling a payment that is not POSTED.
	ErrNotSettleable = errors.New("payments: only posted payments can be settled")
)

// EventPublisher announces payment lifecycle events to downstream consumers.
type EventPublisher interface {
	PaymentPosted(ctx context.Context, p *models.Payment) error
	PaymentSettled(ctx context.Context, p *models.Payment) error
}

// NopPublisher discards events; used by the CLI and tests.
type NopPublisher struct{}

func (NopPublisher) PaymentPosted(context.Context, *models.Payment) error  { return nil }
func (NopPublisher) PaymentSettled(context.Context, *models.Payment) error { return nil }

// Service wires the ingestion pipeline and the staff workflow.
type Service struct {
	store     storage.Store
	chain     *parser.Chain
	resolver  *reference.Resolver
	ledger    *ledger.Service
	protector crypto.Protector
	auditor   audit.Recorder
	metrics   metrics.Recorder
	events    EventPublisher
	log       zerolog.Logger
	currency  string
	now       func() time.Time
}

// Config collects the service dependencies.
type Config struct {
	Store     storage.Store
	Chain     *parser.Chain
	Resolver  *reference.Resolver
	Ledger    *ledger.Service
	Protector crypto.Protector
	Auditor   audit.Recorder
	Metrics   metrics.Recorder
	Events    EventPublisher
	Logger    zerolog.Logger
	Currency  string
}

func NewService(cfg Config) *Service {
	events := cfg.Events
	if events == nil {
		events = NopPublisher{}
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "RWF"
	}
	return &Service{
		store:     cfg.Store,
		chain:     cfg.Chain,
		resolver:  cfg.Resolver,
		ledger:    cfg.Ledger,
		protector: cfg.Protector,
		auditor:   cfg.Auditor,
		metrics:   cfg.Metrics,
		events:    events,
		log:       cfg.Logger,
		currency:  currency,
		now:       time.Now,
	}
}
