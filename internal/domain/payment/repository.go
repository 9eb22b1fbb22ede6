package payment

import (
	"context"
	"time"
)

// ListFilter narrows List results.
type ListFilter struct {
	State     *State
	Account   *string
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
}

// Repository is the persistence boundary for payment records. State changes
// go through ApplyState/MarkDeclined, which are compare-and-set on the
// current state at the storage layer: concurrent reconciliations never need
// an in-process lock.
type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id int64) (*Record, error)
	GetByProviderOrderID(ctx context.Context, providerOrderID string) (*Record, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (*Record, error)
	List(ctx context.Context, f ListFilter) ([]*Record, error)

	// SetCustomer records the resolved payer after account lookup.
	SetCustomer(ctx context.Context, id int64, customerID int64) error

	// SetProviderOrder records the gateway-assigned identity and QR payload.
	// The provider order id is written at most once; a second call for the
	// same record fails with ErrProviderOrderAssigned.
	SetProviderOrder(ctx context.Context, id int64, providerOrderID, qrPayload string, formURL *string) error

	// ApplyState moves the record from one state to another atomically and
	// clears the error fields. It returns false without error when the stored
	// state no longer matches from (a concurrent reconciliation won the race).
	ApplyState(ctx context.Context, id int64, from, to State, opAt time.Time) (bool, error)

	// MarkDeclined is ApplyState into DECLINED that records the failure cause.
	MarkDeclined(ctx context.Context, id int64, from State, code, description *string, opAt time.Time) (bool, error)

	// SetError updates the error fields and operation timestamp without
	// touching the state (informational updates on terminal records, failed
	// notification deliveries, rejected cancel/refund calls). The fields are
	// reset by ApplyState on the next successful transition.
	SetError(ctx context.Context, id int64, code, description *string, opAt time.Time) error
}
