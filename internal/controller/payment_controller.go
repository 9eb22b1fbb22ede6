package controller

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/paylink/qrpay/internal/domain/payment"
	"github.com/paylink/qrpay/internal/service"
)

// PaymentService is the application surface the controller drives.
// Implemented by service.Orchestrator.
type PaymentService interface {
	CreatePayment(ctx context.Context, in service.CreatePaymentInput) (*payment.Record, error)
	GetPayment(ctx context.Context, id int64) (*payment.Record, error)
	ListPayments(ctx context.Context, f payment.ListFilter) ([]*payment.Record, error)
	CancelPayment(ctx context.Context, id int64) (*payment.Record, error)
	RefundPayment(ctx context.Context, id int64) (*payment.Record, error)
}

// PaymentController handles payment-related HTTP requests.
type PaymentController struct {
	payments PaymentService
}

// NewPaymentController creates a new PaymentController.
func NewPaymentController(payments PaymentService) *PaymentController {
	return &PaymentController{payments: payments}
}

// Create handles POST /api/v1/payments. A payment declined during creation
// (unknown payer, gateway rejection) still produces a record; it comes back
// with 422 so the client can show the decline cause.
func (h *PaymentController) Create(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.payments.CreatePayment(r.Context(), service.CreatePaymentInput{
		Account:          req.Account,
		AmountMinorUnits: floatToMinorUnits(req.Amount),
		Email:            req.Email,
		Phone:            req.Phone,
		Description:      req.Description,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if rec.State == payment.StateDeclined {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, FromRecord(rec))
}

// Get handles GET /api/v1/payments/{id}. The read refreshes in-flight
// payments against the gateway before answering.
func (h *PaymentController) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid payment id", Code: "invalid_id"})
		return
	}

	rec, err := h.payments.GetPayment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromRecord(rec))
}

// List handles GET /api/v1/payments
func (h *PaymentController) List(w http.ResponseWriter, r *http.Request) {
	filter := payment.ListFilter{}

	if s := r.URL.Query().Get("state"); s != "" {
		state := payment.State(s)
		filter.State = &state
	}
	if s := r.URL.Query().Get("account"); s != "" {
		filter.Account = &s
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filter.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	filter.SortBy = r.URL.Query().Get("sort_by")
	filter.SortOrder = r.URL.Query().Get("sort_order")

	records, err := h.payments.ListPayments(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*PaymentResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, FromRecord(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Cancel handles POST /api/v1/payments/{id}/cancel
func (h *PaymentController) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid payment id", Code: "invalid_id"})
		return
	}

	rec, err := h.payments.CancelPayment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromRecord(rec))
}

// Refund handles POST /api/v1/payments/{id}/refund
func (h *PaymentController) Refund(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid payment id", Code: "invalid_id"})
		return
	}

	rec, err := h.payments.RefundPayment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromRecord(rec))
}
