package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/paylink/qrpay/internal/domain/errors"
	"github.com/paylink/qrpay/internal/gateway"
)

func TestWriteError_Mapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", domainErrors.NewValidationError("amount", "gt validation failed"), http.StatusBadRequest, "validation_error"},
		{"gateway decline", &gateway.BusinessError{Code: "71015", Message: "duplicate order"}, http.StatusUnprocessableEntity, "gateway_declined"},
		{"not found", domainErrors.ErrPaymentNotFound, http.StatusNotFound, "not_found"},
		{"customer not found", domainErrors.ErrCustomerNotFound, http.StatusNotFound, "customer_not_found"},
		{"duplicate correlation", domainErrors.ErrDuplicateCorrelationID, http.StatusConflict, "duplicate_request"},
		{"invalid transition", domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
		{"not registered", domainErrors.ErrPaymentNotRegistered, http.StatusUnprocessableEntity, "not_registered"},
		{"gateway unavailable", domainErrors.ErrGatewayUnavailable, http.StatusServiceUnavailable, "gateway_unavailable"},
		{"gateway protocol", domainErrors.ErrGatewayProtocol, http.StatusBadGateway, "gateway_protocol"},
		{"unauthorized", domainErrors.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"invalid input", domainErrors.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
		{"wrapped sentinel", domainErrors.NewDomainError("origin_not_allowed", "blocked", domainErrors.ErrUnauthorized), http.StatusUnauthorized, "unauthorized"},
		{"bare domain error", domainErrors.NewDomainError("fiscal_rejected", "invalid pin", nil), http.StatusUnprocessableEntity, "fiscal_rejected"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeError(rr, tt.err)

			assert.Equal(t, tt.wantStatus, rr.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}

func TestWriteError_InternalErrorHidesDetails(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, errors.New("pq: relation does not exist"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "internal server error", resp.Error, "internals never leak to clients")
}

func TestFloatToMinorUnits(t *testing.T) {
	tests := []struct {
		amount float64
		want   int64
	}{
		{125.50, 12550},
		{0.01, 1},
		{99.999, 10000}, // rounds, not truncates
		{1, 100},
		{19.99, 1999},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, floatToMinorUnits(tt.amount), "amount %v", tt.amount)
	}
}

func TestMinorUnitsToFloat(t *testing.T) {
	assert.Equal(t, 125.50, minorUnitsToFloat(12550))
	assert.Equal(t, 0.01, minorUnitsToFloat(1))
}
