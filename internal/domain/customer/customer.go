package customer

import "context"

// Customer is a payer resolved from the billing system by account number.
type Customer struct {
	ID      int64
	Account string
	Email   *string
	Phone   *string
}

// Repository looks payers up. Lookup misses return errors.ErrCustomerNotFound.
type Repository interface {
	GetByAccount(ctx context.Context, account string) (*Customer, error)
}
