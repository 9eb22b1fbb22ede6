package gateway

import (
	"context"
	"time"
)

// CreateQROrder is the request to register an order and obtain its QR payload.
// OrderNumber is the merchant-side order number, unique per gateway contract.
type CreateQROrder struct {
	OrderNumber      string
	AmountMinorUnits int64
	Description      string
}

// CreateQRResult is the outcome of order registration. On success OrderID
// carries the gateway-assigned order identity and QRPayload the data to render
// as a QR code. A gateway-level decline is reported via Business.
type CreateQRResult struct {
	OrderID   string
	QRPayload string
	FormURL   string
	Business  *BusinessError
}

// StatusResult is the extended order status snapshot.
type StatusResult struct {
	OrderStatus           int
	ActionCode            int
	ActionCodeDescription string
	AmountMinorUnits      int64
	DepositedAt           *time.Time
	Business              *BusinessError
}

// OperationResult is the outcome of a cancel or refund call.
type OperationResult struct {
	Business *BusinessError
}

// Client talks to the acquiring bank's payment gateway. The error contract is
// two-level: a returned Go error means the exchange itself failed (transport
// fault, circuit open, non-2xx status, unparseable body) and the order's fate
// is unknown; a non-nil Business field on the result means the gateway
// answered and rejected the operation.
type Client interface {
	CreateQR(ctx context.Context, order CreateQROrder) (*CreateQRResult, error)
	GetStatus(ctx context.Context, providerOrderID string) (*StatusResult, error)
	Cancel(ctx context.Context, providerOrderID string) (*OperationResult, error)
	Refund(ctx context.Context, providerOrderID string, amountMinorUnits int64) (*OperationResult, error)
}
