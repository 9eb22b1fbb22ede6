package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/paylink/qrpay/internal/domain/customer"
	domainErrors "github.com/paylink/qrpay/internal/domain/errors"
	"github.com/paylink/qrpay/internal/domain/ledger"
	"github.com/paylink/qrpay/internal/domain/payment"
	"github.com/paylink/qrpay/internal/fiscal"
	"github.com/paylink/qrpay/internal/gateway"
	"github.com/paylink/qrpay/internal/infrastructure/observability"
	"github.com/paylink/qrpay/internal/notification"
)

// CreatePaymentInput is the application-level request to start a QR payment.
type CreatePaymentInput struct {
	Account          string
	AmountMinorUnits int64
	Email            string
	Phone            string
	Description      string
}

// TxRunner runs a function inside a storage transaction. Implemented by
// postgres.TxManager; nil means every statement commits on its own.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Orchestrator drives the payment lifecycle: intent creation, reconciliation
// of gateway updates arriving by poll and by push, explicit cancel/refund, and
// exactly-once fiscalization. State changes go through storage-level
// compare-and-set, so concurrent updates for the same payment converge without
// in-process locking.
type Orchestrator struct {
	payments  payment.Repository
	customers customer.Repository
	entries   ledger.Repository
	gateway   gateway.Client
	fiscal    fiscal.Provider
	tx        TxRunner
	metrics   *observability.Metrics
	logger    zerolog.Logger

	newCorrelationID func() string
	now              func() time.Time
}

func NewOrchestrator(
	payments payment.Repository,
	customers customer.Repository,
	entries ledger.Repository,
	gw gateway.Client,
	fiscalProvider fiscal.Provider,
	tx TxRunner,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		payments:         payments,
		customers:        customers,
		entries:          entries,
		gateway:          gw,
		fiscal:           fiscalProvider,
		tx:               tx,
		metrics:          metrics,
		logger:           logger.With().Str("component", "orchestrator").Logger(),
		newCorrelationID: uuid.NewString,
		now:              time.Now,
	}
}

func (o *Orchestrator) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if o.tx == nil {
		return fn(ctx)
	}
	return o.tx.WithTransaction(ctx, fn)
}

// CreatePayment registers a payment intent and asks the gateway for its QR
// payload. The record is persisted before the gateway is contacted, so a
// crash mid-flight leaves an auditable CREATED row rather than nothing.
// Lookup misses and gateway declines produce a DECLINED record and a nil
// error; only infrastructure failures surface as errors.
func (o *Orchestrator) CreatePayment(ctx context.Context, in CreatePaymentInput) (*payment.Record, error) {
	start := o.now()

	rec, err := payment.NewRecord(o.newCorrelationID(), in.Account, in.AmountMinorUnits, in.Email, in.Phone)
	if err != nil {
		o.observe("create", start, "invalid")
		return nil, err
	}

	// Persist the intent and resolve the payer in one transaction; the
	// gateway call happens only after the record is durable.
	var declined bool
	err = o.inTx(ctx, func(txCtx context.Context) error {
		if err := o.payments.Create(txCtx, rec); err != nil {
			return err
		}

		cust, err := o.customers.GetByAccount(txCtx, rec.Account)
		if err != nil {
			if errors.Is(err, domainErrors.ErrCustomerNotFound) {
				o.logger.Warn().
					Int64("payment_id", rec.ID).
					Str("account", rec.Account).
					Msg("payer account not found, declining payment")
				o.decline(txCtx, rec, "payer_not_found", "payer account not found")
				declined = true
				return nil
			}
			return err
		}

		if err := o.payments.SetCustomer(txCtx, rec.ID, cust.ID); err != nil {
			return err
		}
		rec.CustomerID = &cust.ID
		return nil
	})
	if err != nil {
		o.observe("create", start, "error")
		return nil, err
	}
	if declined {
		o.observe("create", start, "declined")
		return rec, nil
	}

	log := o.logger.With().Int64("payment_id", rec.ID).Str("correlation_id", rec.CorrelationID).Logger()

	result, err := o.gateway.CreateQR(ctx, gateway.CreateQROrder{
		OrderNumber:      strconv.FormatInt(rec.ID, 10),
		AmountMinorUnits: rec.AmountMinorUnits,
		Description:      in.Description,
	})
	if err != nil {
		// The exchange failed and the order's fate at the gateway is unknown.
		// Keep the record in CREATED with the failure noted; a later poll or
		// notification resolves it either way.
		code := "gateway_unavailable"
		desc := err.Error()
		if serr := o.payments.SetError(ctx, rec.ID, &code, &desc, o.now()); serr != nil {
			log.Error().Err(serr).Msg("failed to record gateway failure")
		}
		o.observe("create", start, "error")
		return nil, err
	}

	if result.Business != nil {
		log.Warn().
			Str("code", result.Business.Code).
			Str("message", result.Business.Message).
			Msg("gateway declined order registration")
		o.decline(ctx, rec, result.Business.Code, result.Business.Message)
		o.observe("create", start, "declined")
		return rec, nil
	}

	if result.QRPayload == "" {
		log.Warn().Str("provider_order_id", result.OrderID).Msg("gateway response carries no QR payload")
		o.decline(ctx, rec, "qr_missing", "gateway returned no QR payload")
		o.observe("create", start, "declined")
		return rec, nil
	}

	var formURL *string
	if result.FormURL != "" {
		formURL = &result.FormURL
	}
	if err := o.payments.SetProviderOrder(ctx, rec.ID, result.OrderID, result.QRPayload, formURL); err != nil {
		o.observe("create", start, "error")
		return nil, err
	}
	rec.ProviderOrderID = &result.OrderID
	rec.QRPayload = &result.QRPayload
	rec.FormURL = formURL

	log.Info().Str("provider_order_id", result.OrderID).Msg("payment registered with gateway")
	o.observe("create", start, "ok")
	return rec, nil
}

// GetPayment returns the record, refreshed against the gateway when the
// payment is still in flight. A failed poll degrades to the stored state
// instead of failing the read.
func (o *Orchestrator) GetPayment(ctx context.Context, id int64) (*payment.Record, error) {
	rec, err := o.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.ProviderOrderID == nil || rec.IsTerminal() {
		return rec, nil
	}

	st, err := o.gateway.GetStatus(ctx, *rec.ProviderOrderID)
	if err != nil {
		o.logger.Warn().Err(err).Int64("payment_id", rec.ID).Msg("status poll failed, serving stored state")
		return rec, nil
	}
	if st.Business != nil {
		o.logger.Warn().
			Int64("payment_id", rec.ID).
			Str("code", st.Business.Code).
			Msg("status poll rejected by gateway, serving stored state")
		return rec, nil
	}

	next := payment.MapGatewayStatus(st.OrderStatus)
	opAt := o.now()
	if st.DepositedAt != nil {
		opAt = *st.DepositedAt
	}

	applied, err := o.reconcile(ctx, rec, next, opAt)
	if err != nil {
		return nil, err
	}
	if !applied && rec.AcceptsReconciledState(next) {
		// Lost the race against a concurrent update; serve the fresh row.
		return o.payments.GetByID(ctx, id)
	}
	return rec, nil
}

// GetPaymentByCorrelationID is a stored-state read, no gateway poll.
func (o *Orchestrator) GetPaymentByCorrelationID(ctx context.Context, correlationID string) (*payment.Record, error) {
	return o.payments.GetByCorrelationID(ctx, correlationID)
}

func (o *Orchestrator) ListPayments(ctx context.Context, f payment.ListFilter) ([]*payment.Record, error) {
	return o.payments.List(ctx, f)
}

// HandleNotification applies one push update from the gateway. The payment is
// resolved by provider order id first, then by merchant order number. A
// notification with status other than 1 reports a failed operation: only the
// error fields are updated, the state machine is not advanced.
func (o *Orchestrator) HandleNotification(ctx context.Context, n *notification.Notification) error {
	rec, err := o.resolve(ctx, n)
	if err != nil {
		o.countNotification("unmatched")
		return err
	}

	opAt := o.now()
	log := o.logger.With().
		Int64("payment_id", rec.ID).
		Str("operation", n.Operation).
		Int("status", n.Status).
		Logger()

	if n.Status != 1 {
		code := fmt.Sprintf("operation_status_%d", n.Status)
		desc := fmt.Sprintf("gateway reported unsuccessful %s operation", n.Operation)
		if err := o.payments.SetError(ctx, rec.ID, &code, &desc, opAt); err != nil {
			o.countNotification("error")
			return err
		}
		log.Warn().Msg("notification reports failed operation, state unchanged")
		o.countNotification("error_noted")
		return nil
	}

	next := payment.MapOperation(n.Operation)
	applied, err := o.reconcile(ctx, rec, next, opAt)
	if err != nil {
		o.countNotification("error")
		return err
	}
	if applied {
		log.Info().Str("state", string(next)).Msg("notification applied")
		o.countNotification("applied")
	} else {
		log.Debug().Str("state", string(next)).Msg("notification is stale, no state change")
		o.countNotification("stale")
	}
	return nil
}

// CancelPayment asks the gateway to reverse the order and declines the record
// on success. A gateway-level rejection leaves the state untouched and is
// returned to the caller after being noted on the record.
func (o *Orchestrator) CancelPayment(ctx context.Context, id int64) (*payment.Record, error) {
	start := o.now()

	rec, err := o.payments.GetByID(ctx, id)
	if err != nil {
		o.observe("cancel", start, "error")
		return nil, err
	}
	if rec.ProviderOrderID == nil {
		o.observe("cancel", start, "invalid")
		return nil, domainErrors.NewDomainError(
			"not_registered",
			"payment has no gateway order to cancel",
			domainErrors.ErrPaymentNotRegistered,
		)
	}
	if !rec.CanTransitionTo(payment.StateDeclined) {
		o.observe("cancel", start, "invalid")
		return nil, payment.TransitionError(rec.State, payment.StateDeclined)
	}

	result, err := o.gateway.Cancel(ctx, *rec.ProviderOrderID)
	if err != nil {
		o.observe("cancel", start, "error")
		return nil, err
	}
	if result.Business != nil {
		if serr := o.payments.SetError(ctx, rec.ID, &result.Business.Code, &result.Business.Message, o.now()); serr != nil {
			o.logger.Error().Err(serr).Int64("payment_id", rec.ID).Msg("failed to record cancel rejection")
		}
		o.observe("cancel", start, "rejected")
		return nil, result.Business
	}

	if _, err := o.reconcile(ctx, rec, payment.StateDeclined, o.now()); err != nil {
		o.observe("cancel", start, "error")
		return nil, err
	}
	o.observe("cancel", start, "ok")
	return rec, nil
}

// RefundPayment refunds the full amount of a paid payment.
func (o *Orchestrator) RefundPayment(ctx context.Context, id int64) (*payment.Record, error) {
	start := o.now()

	rec, err := o.payments.GetByID(ctx, id)
	if err != nil {
		o.observe("refund", start, "error")
		return nil, err
	}
	if rec.ProviderOrderID == nil {
		o.observe("refund", start, "invalid")
		return nil, domainErrors.NewDomainError(
			"not_registered",
			"payment has no gateway order to refund",
			domainErrors.ErrPaymentNotRegistered,
		)
	}
	if !rec.IsRefundable() {
		o.observe("refund", start, "invalid")
		return nil, payment.TransitionError(rec.State, payment.StateRefunded)
	}

	result, err := o.gateway.Refund(ctx, *rec.ProviderOrderID, rec.AmountMinorUnits)
	if err != nil {
		o.observe("refund", start, "error")
		return nil, err
	}
	if result.Business != nil {
		if serr := o.payments.SetError(ctx, rec.ID, &result.Business.Code, &result.Business.Message, o.now()); serr != nil {
			o.logger.Error().Err(serr).Int64("payment_id", rec.ID).Msg("failed to record refund rejection")
		}
		o.observe("refund", start, "rejected")
		return nil, result.Business
	}

	if _, err := o.reconcile(ctx, rec, payment.StateRefunded, o.now()); err != nil {
		o.observe("refund", start, "error")
		return nil, err
	}
	o.observe("refund", start, "ok")
	return rec, nil
}

// reconcile moves rec to next if the state machine accepts the observed
// state, using a compare-and-set on the state the caller loaded. The CAS
// winner owns the transition's side effects: for PAID that is writing the
// fiscal ledger entry, so racing poll and push updates fiscalize at most
// once. On success rec is updated in place.
func (o *Orchestrator) reconcile(ctx context.Context, rec *payment.Record, next payment.State, opAt time.Time) (bool, error) {
	if !rec.AcceptsReconciledState(next) {
		return false, nil
	}

	applied, err := o.payments.ApplyState(ctx, rec.ID, rec.State, next, opAt)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	if o.metrics != nil {
		o.metrics.StateTransitions.WithLabelValues(string(rec.State), string(next)).Inc()
	}
	o.logger.Info().
		Int64("payment_id", rec.ID).
		Str("from", string(rec.State)).
		Str("to", string(next)).
		Msg("payment state transition")

	rec.State = next
	rec.LastErrorCode = nil
	rec.LastErrorDescription = nil
	rec.LastOperationAt = &opAt

	if next == payment.StatePaid {
		o.fiscalize(ctx, rec, opAt)
	}
	return true, nil
}

// fiscalize records the payment in the fiscal ledger and issues the receipt.
// The ledger insert is the dedupe point: a unique constraint on the
// (customer, provider order) pair makes the second writer a no-op. Receipt
// issuance failures are not propagated, the receipt sweeper retries them.
func (o *Orchestrator) fiscalize(ctx context.Context, rec *payment.Record, paidAt time.Time) {
	log := o.logger.With().Int64("payment_id", rec.ID).Logger()

	if rec.CustomerID == nil || rec.ProviderOrderID == nil {
		log.Warn().Msg("payment paid without resolved customer or gateway order, skipping fiscalization")
		return
	}

	entry := &ledger.Entry{
		CustomerID:       *rec.CustomerID,
		ProviderOrderID:  *rec.ProviderOrderID,
		AmountMinorUnits: rec.AmountMinorUnits,
		PaidAt:           paidAt,
	}
	id, inserted, err := o.entries.InsertIfAbsent(ctx, entry)
	if err != nil {
		log.Error().Err(err).Msg("failed to write fiscal ledger entry")
		o.countReceipt("ledger_error")
		return
	}
	if !inserted {
		log.Debug().Msg("fiscal ledger entry already exists, nothing to do")
		o.countReceipt("duplicate")
		return
	}

	result, err := o.fiscal.IssueReceipt(ctx, fiscal.Receipt{
		ExternalID:       *rec.ProviderOrderID,
		Account:          rec.Account,
		AmountMinorUnits: rec.AmountMinorUnits,
		Email:            rec.ContactEmail,
		Phone:            rec.ContactPhone,
	})
	if err != nil {
		log.Warn().Err(err).Msg("fiscal receipt deferred, sweeper will retry")
		o.countReceipt("deferred")
		return
	}

	if err := o.entries.SetReceiptReference(ctx, id, result.ReceiptID); err != nil {
		// The sweeper re-issues the receipt; the provider dedupes on the
		// external id, so this is safe.
		log.Warn().Err(err).Msg("failed to store receipt reference")
		o.countReceipt("deferred")
		return
	}
	o.countReceipt("issued")
}

func (o *Orchestrator) resolve(ctx context.Context, n *notification.Notification) (*payment.Record, error) {
	if n.OrderID != "" {
		rec, err := o.payments.GetByProviderOrderID(ctx, n.OrderID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, domainErrors.ErrPaymentNotFound) {
			return nil, err
		}
	}
	if n.OrderNumber != "" {
		id, err := strconv.ParseInt(n.OrderNumber, 10, 64)
		if err == nil {
			return o.payments.GetByID(ctx, id)
		}
	}
	return nil, domainErrors.NewDomainError(
		"payment_not_found",
		fmt.Sprintf("no payment matches notification order %q / number %q", n.OrderID, n.OrderNumber),
		domainErrors.ErrPaymentNotFound,
	)
}

func (o *Orchestrator) decline(ctx context.Context, rec *payment.Record, code, description string) {
	opAt := o.now()
	applied, err := o.payments.MarkDeclined(ctx, rec.ID, rec.State, &code, &description, opAt)
	if err != nil {
		o.logger.Error().Err(err).Int64("payment_id", rec.ID).Msg("failed to decline payment")
		return
	}
	if applied {
		rec.State = payment.StateDeclined
		rec.LastErrorCode = &code
		rec.LastErrorDescription = &description
		rec.LastOperationAt = &opAt
	}
}

func (o *Orchestrator) observe(operation string, start time.Time, status string) {
	if o.metrics == nil {
		return
	}
	o.metrics.PaymentsTotal.WithLabelValues(operation, status).Inc()
	o.metrics.PaymentDuration.WithLabelValues(operation, status).Observe(o.now().Sub(start).Seconds())
}

func (o *Orchestrator) countNotification(result string) {
	if o.metrics != nil {
		o.metrics.NotificationsTotal.WithLabelValues(result).Inc()
	}
}

func (o *Orchestrator) countReceipt(status string) {
	if o.metrics != nil {
		o.metrics.FiscalReceiptsTotal.WithLabelValues(status).Inc()
	}
}
