package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/paylink/qrpay/internal/domain/ledger"
	"github.com/paylink/qrpay/internal/domain/payment"
	"github.com/paylink/qrpay/internal/fiscal"
	"github.com/paylink/qrpay/internal/infrastructure/observability"
)

// Locker serializes sweep runs across worker instances.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// ReceiptSweeper re-issues fiscal receipts for ledger entries that were
// written but never receipted, typically because the fiscal provider was down
// when the payment completed. Safe to run repeatedly: the provider dedupes on
// the external id and the sweep skips entries that already hold a reference.
type ReceiptSweeper struct {
	entries   ledger.Repository
	payments  payment.Repository
	fiscal    fiscal.Provider
	locker    Locker
	metrics   *observability.Metrics
	logger    zerolog.Logger
	batchSize int
}

func NewReceiptSweeper(
	entries ledger.Repository,
	payments payment.Repository,
	fiscalProvider fiscal.Provider,
	locker Locker,
	batchSize int,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ReceiptSweeper {
	return &ReceiptSweeper{
		entries:   entries,
		payments:  payments,
		fiscal:    fiscalProvider,
		locker:    locker,
		metrics:   metrics,
		logger:    logger.With().Str("component", "receipt_sweeper").Logger(),
		batchSize: batchSize,
	}
}

// RunOnce processes one batch of unreceipted entries and returns how many
// receipts were issued. Per-entry failures are logged and skipped so one bad
// entry cannot stall the rest of the batch. When a locker is configured and
// another instance holds the lock, the run is a no-op.
func (s *ReceiptSweeper) RunOnce(ctx context.Context) (int, error) {
	if s.locker != nil {
		acquired, err := s.locker.Acquire(ctx)
		if err != nil {
			return 0, err
		}
		if !acquired {
			s.logger.Debug().Msg("sweep lock held elsewhere, skipping run")
			return 0, nil
		}
		defer func() {
			if err := s.locker.Release(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("failed to release sweep lock")
			}
		}()
	}

	start := time.Now()
	pending, err := s.entries.ListUnreceipted(ctx, s.batchSize)
	if err != nil {
		s.countSweep("error")
		return 0, err
	}

	issued := 0
	for _, entry := range pending {
		if err := ctx.Err(); err != nil {
			break
		}
		if s.issue(ctx, entry) {
			issued++
		}
	}

	if s.metrics != nil {
		s.metrics.WorkerSweepDuration.WithLabelValues().Observe(time.Since(start).Seconds())
	}
	s.countSweep("ok")
	if len(pending) > 0 {
		s.logger.Info().Int("pending", len(pending)).Int("issued", issued).Msg("receipt sweep finished")
	}
	return issued, nil
}

// Run sweeps on the given interval until the context is cancelled.
func (s *ReceiptSweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("receipt sweep failed")
			}
		}
	}
}

func (s *ReceiptSweeper) issue(ctx context.Context, entry *ledger.Entry) bool {
	log := s.logger.With().Int64("entry_id", entry.ID).Str("provider_order_id", entry.ProviderOrderID).Logger()

	rec, err := s.payments.GetByProviderOrderID(ctx, entry.ProviderOrderID)
	if err != nil {
		log.Error().Err(err).Msg("cannot load payment for ledger entry")
		s.countReceiptIssue("orphaned")
		return false
	}

	result, err := s.fiscal.IssueReceipt(ctx, fiscal.Receipt{
		ExternalID:       entry.ProviderOrderID,
		Account:          rec.Account,
		AmountMinorUnits: entry.AmountMinorUnits,
		Email:            rec.ContactEmail,
		Phone:            rec.ContactPhone,
	})
	if err != nil {
		log.Warn().Err(err).Msg("receipt issue failed, will retry next sweep")
		s.countReceiptIssue("deferred")
		return false
	}

	if err := s.entries.SetReceiptReference(ctx, entry.ID, result.ReceiptID); err != nil {
		log.Warn().Err(err).Msg("failed to store receipt reference")
		s.countReceiptIssue("deferred")
		return false
	}

	log.Info().Str("receipt_id", result.ReceiptID).Msg("fiscal receipt issued by sweeper")
	s.countReceiptIssue("issued")
	return true
}

func (s *ReceiptSweeper) countSweep(status string) {
	if s.metrics != nil {
		s.metrics.WorkerSweepsTotal.WithLabelValues(status).Inc()
	}
}

func (s *ReceiptSweeper) countReceiptIssue(status string) {
	if s.metrics != nil {
		s.metrics.FiscalReceiptsTotal.WithLabelValues(status).Inc()
	}
}
