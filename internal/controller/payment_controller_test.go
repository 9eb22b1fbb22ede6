package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/paylink/qrpay/internal/domain/errors"
	"github.com/paylink/qrpay/internal/domain/payment"
	"github.com/paylink/qrpay/internal/service"
	"github.com/paylink/qrpay/internal/testutil"
)

type stubPaymentService struct {
	CreatePaymentFunc func(ctx context.Context, in service.CreatePaymentInput) (*payment.Record, error)
	GetPaymentFunc    func(ctx context.Context, id int64) (*payment.Record, error)
	ListPaymentsFunc  func(ctx context.Context, f payment.ListFilter) ([]*payment.Record, error)
	CancelPaymentFunc func(ctx context.Context, id int64) (*payment.Record, error)
	RefundPaymentFunc func(ctx context.Context, id int64) (*payment.Record, error)
}

func (s *stubPaymentService) CreatePayment(ctx context.Context, in service.CreatePaymentInput) (*payment.Record, error) {
	return s.CreatePaymentFunc(ctx, in)
}

func (s *stubPaymentService) GetPayment(ctx context.Context, id int64) (*payment.Record, error) {
	return s.GetPaymentFunc(ctx, id)
}

func (s *stubPaymentService) ListPayments(ctx context.Context, f payment.ListFilter) ([]*payment.Record, error) {
	return s.ListPaymentsFunc(ctx, f)
}

func (s *stubPaymentService) CancelPayment(ctx context.Context, id int64) (*payment.Record, error) {
	return s.CancelPaymentFunc(ctx, id)
}

func (s *stubPaymentService) RefundPayment(ctx context.Context, id int64) (*payment.Record, error) {
	return s.RefundPaymentFunc(ctx, id)
}

func paymentRouter(svc PaymentService) http.Handler {
	h := NewPaymentController(svc)
	r := chi.NewRouter()
	r.Post("/payments", h.Create)
	r.Get("/payments", h.List)
	r.Get("/payments/{id}", h.Get)
	r.Post("/payments/{id}/cancel", h.Cancel)
	r.Post("/payments/{id}/refund", h.Refund)
	return r
}

func TestCreate_Success(t *testing.T) {
	var gotInput service.CreatePaymentInput
	svc := &stubPaymentService{
		CreatePaymentFunc: func(ctx context.Context, in service.CreatePaymentInput) (*payment.Record, error) {
			gotInput = in
			rec := testutil.NewRegisteredRecord(in.Account, in.AmountMinorUnits, payment.StateCreated)
			rec.ID = 42
			return rec, nil
		},
	}

	body := `{"account": "acct-1", "amount": 125.50, "email": "payer@example.test"}`
	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(body))
	rr := httptest.NewRecorder()
	paymentRouter(svc).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, int64(12550), gotInput.AmountMinorUnits, "major units convert to minor units")
	assert.Equal(t, "payer@example.test", gotInput.Email)

	var resp PaymentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.ID)
	assert.Equal(t, "CREATED", resp.State)
	assert.Equal(t, 125.50, resp.Amount)
	assert.NotNil(t, resp.QRPayload)
}

func TestCreate_DeclinedPaymentGets422WithBody(t *testing.T) {
	svc := &stubPaymentService{
		CreatePaymentFunc: func(ctx context.Context, in service.CreatePaymentInput) (*payment.Record, error) {
			rec := testutil.NewTestRecord(in.Account, in.AmountMinorUnits)
			rec.ID = 7
			rec.State = payment.StateDeclined
			rec.LastErrorCode = testutil.StringPtr("payer_not_found")
			return rec, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(`{"account": "x", "amount": 1}`))
	rr := httptest.NewRecorder()
	paymentRouter(svc).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var resp PaymentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "DECLINED", resp.State, "declined payments still return the record")
	require.NotNil(t, resp.LastErrorCode)
	assert.Equal(t, "payer_not_found", *resp.LastErrorCode)
}

func TestCreate_ValidationFailure(t *testing.T) {
	svc := &stubPaymentService{
		CreatePaymentFunc: func(ctx context.Context, in service.CreatePaymentInput) (*payment.Record, error) {
			t.Fatal("service must not be called for invalid input")
			return nil, nil
		},
	}

	tests := []struct {
		name string
		body string
	}{
		{"missing account", `{"amount": 1}`},
		{"zero amount", `{"account": "x", "amount": 0}`},
		{"negative amount", `{"account": "x", "amount": -5}`},
		{"bad email", `{"account": "x", "amount": 1, "email": "nope"}`},
		{"not json", `{{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			paymentRouter(svc).ServeHTTP(rr, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, "validation_error", resp.Code)
		})
	}
}

func TestCreate_GatewayUnavailable(t *testing.T) {
	svc := &stubPaymentService{
		CreatePaymentFunc: func(ctx context.Context, in service.CreatePaymentInput) (*payment.Record, error) {
			return nil, domainErrors.NewDomainError("gateway_unavailable", "connection refused", domainErrors.ErrGatewayUnavailable)
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(`{"account": "x", "amount": 1}`))
	rr := httptest.NewRecorder()
	paymentRouter(svc).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestGet_Success(t *testing.T) {
	svc := &stubPaymentService{
		GetPaymentFunc: func(ctx context.Context, id int64) (*payment.Record, error) {
			rec := testutil.NewRegisteredRecord("acct-1", 100, payment.StatePaid)
			rec.ID = id
			return rec, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/payments/42", nil)
	rr := httptest.NewRecorder()
	paymentRouter(svc).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp PaymentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.ID)
	assert.Equal(t, "PAID", resp.State)
}

func TestGet_InvalidID(t *testing.T) {
	svc := &stubPaymentService{}
	req := httptest.NewRequest(http.MethodGet, "/payments/abc", nil)
	rr := httptest.NewRecorder()
	paymentRouter(svc).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_id", resp.Code)
}

func TestGet_NotFound(t *testing.T) {
	svc := &stubPaymentService{
		GetPaymentFunc: func(ctx context.Context, id int64) (*payment.Record, error) {
			return nil, domainErrors.ErrPaymentNotFound
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/payments/42", nil)
	rr := httptest.NewRecorder()
	paymentRouter(svc).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestList_PassesFilter(t *testing.T) {
	var gotFilter payment.ListFilter
	svc := &stubPaymentService{
		ListPaymentsFunc: func(ctx context.Context, f payment.ListFilter) ([]*payment.Record, error) {
			gotFilter = f
			return []*payment.Record{}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/payments?state=PAID&account=acct-1&limit=5&offset=10&sort_by=created_at&sort_order=asc", nil)
	rr := httptest.NewRecorder()
	paymentRouter(svc).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, gotFilter.State)
	assert.Equal(t, payment.StatePaid, *gotFilter.State)
	require.NotNil(t, gotFilter.Account)
	assert.Equal(t, "acct-1", *gotFilter.Account)
	assert.Equal(t, 5, gotFilter.Limit)
	assert.Equal(t, 10, gotFilter.Offset)
	assert.Equal(t, "created_at", gotFilter.SortBy)
	assert.Equal(t, "asc", gotFilter.SortOrder)
	assert.Equal(t, "[]\n", rr.Body.String(), "empty result is a JSON array, not null")
}

func TestCancel_InvalidTransition(t *testing.T) {
	svc := &stubPaymentService{
		CancelPaymentFunc: func(ctx context.Context, id int64) (*payment.Record, error) {
			return nil, payment.TransitionError(payment.StateRefunded, payment.StateDeclined)
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/payments/42/cancel", nil)
	rr := httptest.NewRecorder()
	paymentRouter(svc).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_state_transition", resp.Code)
}

func TestRefund_Success(t *testing.T) {
	svc := &stubPaymentService{
		RefundPaymentFunc: func(ctx context.Context, id int64) (*payment.Record, error) {
			rec := testutil.NewRegisteredRecord("acct-1", 100, payment.StateRefunded)
			rec.ID = id
			return rec, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/payments/42/refund", nil)
	rr := httptest.NewRecorder()
	paymentRouter(svc).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp PaymentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "REFUNDED", resp.State)
}

func TestRefund_NotRegistered(t *testing.T) {
	svc := &stubPaymentService{
		RefundPaymentFunc: func(ctx context.Context, id int64) (*payment.Record, error) {
			return nil, domainErrors.NewDomainError("not_registered", "payment has no gateway order to refund", domainErrors.ErrPaymentNotRegistered)
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/payments/42/refund", nil)
	rr := httptest.NewRecorder()
	paymentRouter(svc).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "not_registered", resp.Code)
}
