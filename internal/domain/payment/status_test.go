package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapGatewayStatus(t *testing.T) {
	tests := []struct {
		code int
		want State
	}{
		{0, StateCreated},
		{1, StateAuthorized},
		{2, StatePaid},
		{3, StateDeclined},
		{4, StateRefunded},
		{5, StateOnPayment},
		{6, StateDeclined},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MapGatewayStatus(tt.code), "status code %d", tt.code)
	}
}

func TestMapGatewayStatus_UnknownCodeFallsBackToCreated(t *testing.T) {
	for _, code := range []int{7, 42, -1, 100} {
		assert.Equal(t, StateCreated, MapGatewayStatus(code), "unknown code %d", code)
	}
}

func TestMapOperation(t *testing.T) {
	tests := []struct {
		op   string
		want State
	}{
		{"created", StateCreated},
		{"approved", StateAuthorized},
		{"deposited", StatePaid},
		{"reversed", StateDeclined},
		{"refunded", StateRefunded},
		{"declinedByTimeout", StateExpired},
		{"subscriptionCreated", StatePaid},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MapOperation(tt.op), "operation %q", tt.op)
	}
}

func TestMapOperation_UnknownFallsBackToCreated(t *testing.T) {
	for _, op := range []string{"", "somethingNew", "DEPOSITED"} {
		assert.Equal(t, StateCreated, MapOperation(op), "operation %q", op)
	}
}
