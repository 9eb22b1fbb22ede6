package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/paylink/qrpay/internal/domain/customer"
	"github.com/paylink/qrpay/internal/domain/payment"
)

func StringPtr(s string) *string { return &s }

func Int64Ptr(v int64) *int64 { return &v }

// NewTestCustomer builds a payer with contact details filled in.
func NewTestCustomer(id int64, account string) *customer.Customer {
	return &customer.Customer{
		ID:      id,
		Account: account,
		Email:   StringPtr("payer@example.test"),
		Phone:   StringPtr("+79990000000"),
	}
}

// NewTestRecord builds a CREATED payment record not yet known to any store.
func NewTestRecord(account string, amountMinorUnits int64) *payment.Record {
	return &payment.Record{
		CorrelationID:    uuid.NewString(),
		Account:          account,
		AmountMinorUnits: amountMinorUnits,
		State:            payment.StateCreated,
		CreatedAt:        time.Now(),
	}
}

// NewRegisteredRecord builds a record that already passed gateway
// registration: provider order assigned, QR payload present, payer resolved.
func NewRegisteredRecord(account string, amountMinorUnits int64, state payment.State) *payment.Record {
	r := NewTestRecord(account, amountMinorUnits)
	r.State = state
	r.CustomerID = Int64Ptr(1)
	r.ProviderOrderID = StringPtr(uuid.NewString())
	r.QRPayload = StringPtr("https://qr.example.test/payload")
	return r
}
