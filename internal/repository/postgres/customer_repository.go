package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paylink/qrpay/internal/domain/customer"
	domainErrors "github.com/paylink/qrpay/internal/domain/errors"
)

// CustomerRepository implements customer.Repository using PostgreSQL.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

func (r *CustomerRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *CustomerRepository) GetByAccount(ctx context.Context, account string) (*customer.Customer, error) {
	var c customer.Customer
	err := r.db(ctx).QueryRow(ctx,
		`SELECT id, account, email, phone FROM customers WHERE account = $1`, account,
	).Scan(&c.ID, &c.Account, &c.Email, &c.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("get customer by account: %w", err)
	}
	return &c, nil
}
