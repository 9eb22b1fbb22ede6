package notification

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/paylink/qrpay/internal/domain/errors"
	"github.com/paylink/qrpay/internal/infrastructure/config"
)

func mustGate(t *testing.T, cfg config.NotificationConfig) *Gate {
	t.Helper()
	g, err := NewGate(cfg)
	require.NoError(t, err)
	return g
}

// signedBody marshals fields with a checksum computed the way the gateway
// computes it.
func signedBody(t *testing.T, secret string, fields map[string]any) []byte {
	t.Helper()
	checksum, err := Sign([]byte(secret), fields)
	require.NoError(t, err)

	withChecksum := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		withChecksum[k] = v
	}
	withChecksum["checksum"] = checksum

	body, err := json.Marshal(withChecksum)
	require.NoError(t, err)
	return body
}

func TestNewGate_RejectsBadOrigin(t *testing.T) {
	_, err := NewGate(config.NotificationConfig{AllowedOrigins: []string{"not-an-ip"}})
	assert.Error(t, err)
}

func TestAdmit_OriginAllowList(t *testing.T) {
	g := mustGate(t, config.NotificationConfig{
		AllowedOrigins: []string{"10.20.0.0/16", "192.168.1.5"},
	})

	tests := []struct {
		remoteAddr string
		allowed    bool
	}{
		{"10.20.30.40:54321", true},
		{"10.20.0.1:80", true},
		{"192.168.1.5:443", true},
		{"192.168.1.6:443", false},
		{"10.21.0.1:80", false},
		{"garbage", false},
	}

	for _, tt := range tests {
		err := g.Admit(tt.remoteAddr, []byte(`{}`))
		if tt.allowed {
			assert.NoError(t, err, "remote %s", tt.remoteAddr)
		} else {
			assert.ErrorIs(t, err, domainErrors.ErrUnauthorized, "remote %s", tt.remoteAddr)
		}
	}
}

func TestAdmit_BareIPv6Origin(t *testing.T) {
	g := mustGate(t, config.NotificationConfig{AllowedOrigins: []string{"2001:db8::1"}})
	assert.NoError(t, g.Admit("[2001:db8::1]:443", []byte(`{}`)))
	assert.ErrorIs(t, g.Admit("[2001:db8::2]:443", []byte(`{}`)), domainErrors.ErrUnauthorized)
}

func TestAdmit_ValidChecksum(t *testing.T) {
	g := mustGate(t, config.NotificationConfig{
		AllowedOrigins: []string{"0.0.0.0/0"},
		Secret:         "shared-secret",
	})

	body := signedBody(t, "shared-secret", map[string]any{
		"mdOrder":   "ord-1",
		"operation": "deposited",
		"status":    1,
	})
	assert.NoError(t, g.Admit("203.0.113.7:9000", body))
}

func TestAdmit_ChecksumMismatch(t *testing.T) {
	g := mustGate(t, config.NotificationConfig{
		AllowedOrigins: []string{"0.0.0.0/0"},
		Secret:         "shared-secret",
	})

	body := signedBody(t, "wrong-secret", map[string]any{
		"mdOrder":   "ord-1",
		"operation": "deposited",
		"status":    1,
	})
	err := g.Admit("203.0.113.7:9000", body)
	require.ErrorIs(t, err, domainErrors.ErrUnauthorized)

	var domainErr *domainErrors.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "checksum_mismatch", domainErr.Code)
}

func TestAdmit_ChecksumMissing(t *testing.T) {
	g := mustGate(t, config.NotificationConfig{
		AllowedOrigins: []string{"0.0.0.0/0"},
		Secret:         "shared-secret",
	})

	err := g.Admit("203.0.113.7:9000", []byte(`{"mdOrder": "ord-1", "status": 1}`))
	require.ErrorIs(t, err, domainErrors.ErrUnauthorized)

	var domainErr *domainErrors.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "checksum_missing", domainErr.Code)
}

func TestAdmit_UppercaseChecksumAccepted(t *testing.T) {
	g := mustGate(t, config.NotificationConfig{
		AllowedOrigins: []string{"0.0.0.0/0"},
		Secret:         "shared-secret",
	})

	fields := map[string]any{"mdOrder": "ord-1", "status": 1}
	checksum, err := Sign([]byte("shared-secret"), fields)
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{
		"mdOrder":  "ord-1",
		"status":   1,
		"checksum": strings.ToUpper(checksum),
	})
	require.NoError(t, err)
	assert.NoError(t, g.Admit("203.0.113.7:9000", body), "some gateways send the checksum uppercased")
}

func TestAdmit_EmptySecretSkipsChecksum(t *testing.T) {
	g := mustGate(t, config.NotificationConfig{AllowedOrigins: []string{"0.0.0.0/0"}})
	assert.NoError(t, g.Admit("203.0.113.7:9000", []byte(`{"mdOrder": "ord-1"}`)))
}

func TestParse(t *testing.T) {
	n, err := Parse([]byte(`{"mdOrder": "ord-1", "operation": "deposited", "status": 1}`))
	require.NoError(t, err)
	assert.Equal(t, "ord-1", n.OrderID)
	assert.Equal(t, "deposited", n.Operation)
	assert.Equal(t, 1, n.Status)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	assert.ErrorIs(t, err, domainErrors.ErrInvalidInput)

	_, err = Parse([]byte(`{"operation": "deposited", "status": 1}`))
	assert.ErrorIs(t, err, domainErrors.ErrInvalidInput, "a notification without order identity is rejected")
}
