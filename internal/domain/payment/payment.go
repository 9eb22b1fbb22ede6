package payment

import (
	"time"

	"github.com/paylink/qrpay/internal/domain/errors"
)

// State represents the payment status in the state machine
type State string

const (
	StateCreated    State = "CREATED"
	StateOnPayment  State = "ON_PAYMENT"
	StateAuthorized State = "AUTHORIZED"
	StatePaid       State = "PAID"
	StateConfirmed  State = "CONFIRMED"
	StateDeclined   State = "DECLINED"
	StateReversed   State = "REVERSED"
	StateRefunded   State = "REFUNDED"
	StateRevoked    State = "REVOKED"
	StateExpired    State = "EXPIRED"
)

// IsTerminal reports whether no further state transition is allowed.
func (s State) IsTerminal() bool {
	switch s {
	case StateDeclined, StateRefunded, StateExpired, StateRevoked:
		return true
	}
	return false
}

// Record is one QR payment attempt. The internal id doubles as the order
// number sent to the gateway; the provider order id is assigned by the
// gateway once QR creation succeeds and is written exactly once.
type Record struct {
	ID                   int64
	CorrelationID        string
	ProviderOrderID      *string
	Account              string
	CustomerID           *int64
	AmountMinorUnits     int64
	QRPayload            *string
	FormURL              *string
	ContactEmail         *string
	ContactPhone         *string
	State                State
	LastErrorCode        *string
	LastErrorDescription *string
	CreatedAt            time.Time
	LastOperationAt      *time.Time
}

// NewRecord creates a payment record in the initial CREATED state.
func NewRecord(correlationID, account string, amountMinorUnits int64, email, phone string) (*Record, error) {
	if correlationID == "" {
		return nil, errors.NewValidationError("correlation_id", "cannot be empty")
	}
	if account == "" {
		return nil, errors.NewValidationError("account", "cannot be empty")
	}
	if amountMinorUnits <= 0 {
		return nil, errors.NewValidationError("amount", "must be greater than 0")
	}

	r := &Record{
		CorrelationID:    correlationID,
		Account:          account,
		AmountMinorUnits: amountMinorUnits,
		State:            StateCreated,
		CreatedAt:        time.Now(),
	}
	if email != "" {
		r.ContactEmail = &email
	}
	if phone != "" {
		r.ContactPhone = &phone
	}
	return r, nil
}

// CanTransitionTo checks whether the record may move to the given state via
// an explicit operation (cancel, refund, capture). Reconciliation from the
// gateway uses the weaker rule in AcceptsReconciledState instead.
func (r *Record) CanTransitionTo(next State) bool {
	transitions := map[State][]State{
		StateCreated: {
			StateOnPayment,
			StateAuthorized,
			StatePaid,
			StateDeclined,
			StateExpired,
		},
		StateOnPayment: {
			StateAuthorized,
			StatePaid,
			StateDeclined,
			StateExpired,
		},
		StateAuthorized: {
			StatePaid,
			StateDeclined,
		},
		StatePaid: {
			StateConfirmed,
			StateRefunded,
		},
		StateConfirmed: {
			StateRefunded,
			StateDeclined,
		},
		StateReversed: {
			StateDeclined,
			StateRefunded,
		},
		StateDeclined: {}, // Terminal state
		StateRefunded: {}, // Terminal state
		StateExpired:  {}, // Terminal state
		StateRevoked:  {}, // Terminal state
	}

	allowed, exists := transitions[r.State]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == next {
			return true
		}
	}
	return false
}

// AcceptsReconciledState reports whether a state observed from the gateway
// (via poll or notification) should be applied: it must differ from the
// current state and the current state must be non-terminal. Replayed
// notifications for terminal records are no-ops with respect to state.
func (r *Record) AcceptsReconciledState(next State) bool {
	return next != r.State && !r.State.IsTerminal()
}

// IsTerminal checks if the record is in a terminal state
func (r *Record) IsTerminal() bool {
	return r.State.IsTerminal()
}

// IsRefundable reports whether an explicit refund request is allowed.
func (r *Record) IsRefundable() bool {
	return r.State == StatePaid || r.State == StateConfirmed
}

// TransitionError builds the typed error for an illegal explicit transition.
func TransitionError(from, to State) error {
	return errors.NewDomainError(
		"invalid_transition",
		"cannot transition from "+string(from)+" to "+string(to),
		errors.ErrInvalidStateTransition,
	)
}
