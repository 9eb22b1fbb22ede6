package ledger

import (
	"context"
	"time"
)

// Entry is one fiscalized payment. The (CustomerID, ProviderOrderID) pair is
// the dedupe boundary: the store enforces its uniqueness, so two concurrent
// reconciliations observing the same PAID transition insert at most one row.
type Entry struct {
	ID               int64
	CustomerID       int64
	ProviderOrderID  string
	AmountMinorUnits int64
	PaidAt           time.Time
	ReceiptReference *string
	CreatedAt        time.Time
}

// Receipted reports whether a fiscal receipt has been issued for the entry.
func (e *Entry) Receipted() bool {
	return e.ReceiptReference != nil && *e.ReceiptReference != ""
}

// Repository persists fiscal ledger entries. Entries are created once and
// never deleted; the receipt reference is filled in after the fiscal provider
// accepts the receipt.
type Repository interface {
	// InsertIfAbsent inserts the entry unless one already exists for the same
	// (customer, provider order) pair. It returns the entry id and whether the
	// insert happened; the duplicate check is a storage-level uniqueness
	// constraint, not a read-then-write.
	InsertIfAbsent(ctx context.Context, e *Entry) (id int64, inserted bool, err error)

	SetReceiptReference(ctx context.Context, id int64, reference string) error

	// ListUnreceipted returns entries with no receipt reference, oldest first,
	// for the supervisory retry sweep.
	ListUnreceipted(ctx context.Context, limit int) ([]*Entry, error)
}
