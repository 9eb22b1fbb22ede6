package controller

import (
	"math"
	"time"

	"github.com/paylink/qrpay/internal/domain/payment"
)

// --- Request DTOs ---
// These DTOs handle HTTP/JSON concerns (float64 for money in major units,
// validation tags). Controllers convert these to service layer inputs.

// CreatePaymentRequest holds the input for starting a QR payment.
type CreatePaymentRequest struct {
	Account     string  `json:"account" validate:"required,max=64"`
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	Email       string  `json:"email,omitempty" validate:"omitempty,email"`
	Phone       string  `json:"phone,omitempty" validate:"omitempty,max=32"`
	Description string  `json:"description,omitempty" validate:"omitempty,max=512"`
}

// --- Response DTOs ---

// PaymentResponse represents a payment in API responses.
type PaymentResponse struct {
	ID                   int64      `json:"id"`
	CorrelationID        string     `json:"correlation_id"`
	ProviderOrderID      *string    `json:"provider_order_id,omitempty"`
	Account              string     `json:"account"`
	Amount               float64    `json:"amount"`
	QRPayload            *string    `json:"qr_payload,omitempty"`
	FormURL              *string    `json:"form_url,omitempty"`
	State                string     `json:"state"`
	LastErrorCode        *string    `json:"last_error_code,omitempty"`
	LastErrorDescription *string    `json:"last_error_description,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	LastOperationAt      *time.Time `json:"last_operation_at,omitempty"`
}

// CallbackResponse acknowledges an inbound gateway notification.
type CallbackResponse struct {
	Accepted bool `json:"accepted"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

// FromRecord converts a domain payment record to an API response.
func FromRecord(r *payment.Record) *PaymentResponse {
	return &PaymentResponse{
		ID:                   r.ID,
		CorrelationID:        r.CorrelationID,
		ProviderOrderID:      r.ProviderOrderID,
		Account:              r.Account,
		Amount:               minorUnitsToFloat(r.AmountMinorUnits),
		QRPayload:            r.QRPayload,
		FormURL:              r.FormURL,
		State:                string(r.State),
		LastErrorCode:        r.LastErrorCode,
		LastErrorDescription: r.LastErrorDescription,
		CreatedAt:            r.CreatedAt,
		LastOperationAt:      r.LastOperationAt,
	}
}

func floatToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func minorUnitsToFloat(v int64) float64 {
	return float64(v) / 100
}
