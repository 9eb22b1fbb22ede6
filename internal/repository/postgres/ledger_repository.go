package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paylink/qrpay/internal/domain/ledger"
)

// LedgerRepository implements ledger.Repository using PostgreSQL. The
// exactly-once fiscalization guarantee rests on the table's unique constraint
// over (customer_id, provider_order_id).
type LedgerRepository struct {
	pool *pgxpool.Pool
}

func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

func (r *LedgerRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// InsertIfAbsent inserts the entry unless one exists for the same (customer,
// provider order) pair. ON CONFLICT DO NOTHING makes the duplicate path a
// single round trip with no race window.
func (r *LedgerRepository) InsertIfAbsent(ctx context.Context, e *ledger.Entry) (int64, bool, error) {
	var id int64
	err := r.db(ctx).QueryRow(ctx,
		`INSERT INTO fiscal_ledger (customer_id, provider_order_id, amount_minor_units, paid_at, created_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (customer_id, provider_order_id) DO NOTHING
		 RETURNING id`,
		e.CustomerID, e.ProviderOrderID, e.AmountMinorUnits, e.PaidAt,
	).Scan(&id)
	if err == nil {
		e.ID = id
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("insert fiscal ledger entry: %w", err)
	}

	// Conflict path: the entry already exists, report its id.
	err = r.db(ctx).QueryRow(ctx,
		`SELECT id FROM fiscal_ledger WHERE customer_id = $1 AND provider_order_id = $2`,
		e.CustomerID, e.ProviderOrderID,
	).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("load existing fiscal ledger entry: %w", err)
	}
	e.ID = id
	return id, false, nil
}

func (r *LedgerRepository) SetReceiptReference(ctx context.Context, id int64, reference string) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE fiscal_ledger SET receipt_reference = $2 WHERE id = $1`, id, reference)
	if err != nil {
		return fmt.Errorf("set receipt reference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fiscal ledger entry %d not found", id)
	}
	return nil
}

func (r *LedgerRepository) ListUnreceipted(ctx context.Context, limit int) ([]*ledger.Entry, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, customer_id, provider_order_id, amount_minor_units, paid_at, receipt_reference, created_at
		 FROM fiscal_ledger
		 WHERE receipt_reference IS NULL
		 ORDER BY created_at ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unreceipted entries: %w", err)
	}
	defer rows.Close()

	var entries []*ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.ProviderOrderID, &e.AmountMinorUnits,
			&e.PaidAt, &e.ReceiptReference, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fiscal ledger entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
