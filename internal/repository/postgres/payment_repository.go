package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	domainErrors "github.com/paylink/qrpay/internal/domain/errors"
	"github.com/paylink/qrpay/internal/domain/payment"
)

// allowedSortColumns is a whitelist of columns valid for ORDER BY.
var allowedSortColumns = map[string]string{
	"created_at":        "created_at",
	"amount":            "amount_minor_units",
	"state":             "state",
	"last_operation_at": "last_operation_at",
}

const paymentColumns = `id, correlation_id, provider_order_id, account, customer_id,
	amount_minor_units, qr_payload, form_url, contact_email, contact_phone,
	state, last_error_code, last_error_description, created_at, last_operation_at`

// PaymentRepository implements payment.Repository using PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository creates a new PaymentRepository.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Create inserts a new payment record and fills in its generated id.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Record) error {
	err := r.db(ctx).QueryRow(ctx,
		`INSERT INTO payments
		 (correlation_id, account, customer_id, amount_minor_units,
		  contact_email, contact_phone, state, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 RETURNING id`,
		p.CorrelationID, p.Account, p.CustomerID, p.AmountMinorUnits,
		p.ContactEmail, p.ContactPhone, string(p.State), p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainErrors.ErrDuplicateCorrelationID
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*payment.Record, error) {
	return r.scanRecord(r.db(ctx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

func (r *PaymentRepository) GetByProviderOrderID(ctx context.Context, providerOrderID string) (*payment.Record, error) {
	return r.scanRecord(r.db(ctx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE provider_order_id = $1`, providerOrderID))
}

func (r *PaymentRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*payment.Record, error) {
	return r.scanRecord(r.db(ctx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE correlation_id = $1`, correlationID))
}

// List returns records matching the filter, newest first by default.
func (r *PaymentRepository) List(ctx context.Context, f payment.ListFilter) ([]*payment.Record, error) {
	var (
		conditions []string
		args       []any
	)
	if f.State != nil {
		args = append(args, string(*f.State))
		conditions = append(conditions, fmt.Sprintf("state = $%d", len(args)))
	}
	if f.Account != nil {
		args = append(args, *f.Account)
		conditions = append(conditions, fmt.Sprintf("account = $%d", len(args)))
	}

	query := `SELECT ` + paymentColumns + ` FROM payments`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	sortColumn, ok := allowedSortColumns[f.SortBy]
	if !ok {
		sortColumn = "created_at"
	}
	sortOrder := "DESC"
	if strings.EqualFold(f.SortOrder, "asc") {
		sortOrder = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", sortColumn, sortOrder)

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var records []*payment.Record
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *PaymentRepository) SetCustomer(ctx context.Context, id int64, customerID int64) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payments SET customer_id = $2 WHERE id = $1`, id, customerID)
	if err != nil {
		return fmt.Errorf("set payment customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrPaymentNotFound
	}
	return nil
}

// SetProviderOrder records the gateway-assigned identity. The WHERE clause
// makes the write first-wins: a second assignment attempt affects no rows.
func (r *PaymentRepository) SetProviderOrder(ctx context.Context, id int64, providerOrderID, qrPayload string, formURL *string) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payments
		 SET provider_order_id = $2, qr_payload = $3, form_url = $4
		 WHERE id = $1 AND provider_order_id IS NULL`,
		id, providerOrderID, qrPayload, formURL)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainErrors.NewDomainError(
				"provider_order_conflict",
				fmt.Sprintf("gateway order %s already belongs to another payment", providerOrderID),
				domainErrors.ErrProviderOrderAssigned,
			)
		}
		return fmt.Errorf("set provider order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := r.GetByID(ctx, id); gerr != nil {
			return gerr
		}
		return domainErrors.ErrProviderOrderAssigned
	}
	return nil
}

// ApplyState is the compare-and-set transition primitive. It succeeds only
// when the stored state still equals from; the error fields are cleared in
// the same statement.
func (r *PaymentRepository) ApplyState(ctx context.Context, id int64, from, to payment.State, opAt time.Time) (bool, error) {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payments
		 SET state = $3, last_error_code = NULL, last_error_description = NULL, last_operation_at = $4
		 WHERE id = $1 AND state = $2`,
		id, string(from), string(to), opAt)
	if err != nil {
		return false, fmt.Errorf("apply payment state: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PaymentRepository) MarkDeclined(ctx context.Context, id int64, from payment.State, code, description *string, opAt time.Time) (bool, error) {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payments
		 SET state = $3, last_error_code = $4, last_error_description = $5, last_operation_at = $6
		 WHERE id = $1 AND state = $2`,
		id, string(from), string(payment.StateDeclined), code, description, opAt)
	if err != nil {
		return false, fmt.Errorf("decline payment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PaymentRepository) SetError(ctx context.Context, id int64, code, description *string, opAt time.Time) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payments
		 SET last_error_code = $2, last_error_description = $3, last_operation_at = $4
		 WHERE id = $1`,
		id, code, description, opAt)
	if err != nil {
		return fmt.Errorf("set payment error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrPaymentNotFound
	}
	return nil
}

func (r *PaymentRepository) scanRecord(s scanner) (*payment.Record, error) {
	var (
		rec   payment.Record
		state string
	)
	err := s.Scan(
		&rec.ID, &rec.CorrelationID, &rec.ProviderOrderID, &rec.Account, &rec.CustomerID,
		&rec.AmountMinorUnits, &rec.QRPayload, &rec.FormURL, &rec.ContactEmail, &rec.ContactPhone,
		&state, &rec.LastErrorCode, &rec.LastErrorDescription, &rec.CreatedAt, &rec.LastOperationAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	rec.State = payment.State(state)
	return &rec, nil
}
