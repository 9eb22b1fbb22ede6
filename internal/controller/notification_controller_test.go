package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/paylink/qrpay/internal/domain/errors"
	"github.com/paylink/qrpay/internal/infrastructure/config"
	"github.com/paylink/qrpay/internal/notification"
)

type stubNotificationHandler struct {
	handleFunc func(ctx context.Context, n *notification.Notification) error
}

func (s *stubNotificationHandler) HandleNotification(ctx context.Context, n *notification.Notification) error {
	return s.handleFunc(ctx, n)
}

func callbackRequest(body string, remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/callback/payment", strings.NewReader(body))
	req.RemoteAddr = remoteAddr
	return req
}

func openGate(t *testing.T) *notification.Gate {
	t.Helper()
	g, err := notification.NewGate(config.NotificationConfig{AllowedOrigins: []string{"0.0.0.0/0"}})
	require.NoError(t, err)
	return g
}

func TestHandleCallback_Accepted(t *testing.T) {
	var gotNotification *notification.Notification
	handler := &stubNotificationHandler{
		handleFunc: func(ctx context.Context, n *notification.Notification) error {
			gotNotification = n
			return nil
		},
	}
	c := NewNotificationController(openGate(t), handler, zerolog.Nop())

	rr := httptest.NewRecorder()
	c.HandleCallback(rr, callbackRequest(`{"mdOrder": "ord-1", "operation": "deposited", "status": 1}`, "10.0.0.1:5000"))

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp CallbackResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Accepted)

	require.NotNil(t, gotNotification)
	assert.Equal(t, "ord-1", gotNotification.OrderID)
	assert.Equal(t, "deposited", gotNotification.Operation)
}

func TestHandleCallback_RejectedOrigin(t *testing.T) {
	g, err := notification.NewGate(config.NotificationConfig{AllowedOrigins: []string{"10.20.0.0/16"}})
	require.NoError(t, err)
	handler := &stubNotificationHandler{
		handleFunc: func(ctx context.Context, n *notification.Notification) error {
			t.Fatal("rejected notifications must not reach the handler")
			return nil
		},
	}
	c := NewNotificationController(g, handler, zerolog.Nop())

	rr := httptest.NewRecorder()
	c.HandleCallback(rr, callbackRequest(`{"mdOrder": "ord-1", "status": 1}`, "203.0.113.7:5000"))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHandleCallback_BadChecksumBlocksProcessing(t *testing.T) {
	g, err := notification.NewGate(config.NotificationConfig{
		AllowedOrigins: []string{"0.0.0.0/0"},
		Secret:         "shared-secret",
	})
	require.NoError(t, err)
	handler := &stubNotificationHandler{
		handleFunc: func(ctx context.Context, n *notification.Notification) error {
			t.Fatal("unauthenticated notifications must not reach the handler")
			return nil
		},
	}
	c := NewNotificationController(g, handler, zerolog.Nop())

	rr := httptest.NewRecorder()
	c.HandleCallback(rr, callbackRequest(`{"mdOrder": "ord-1", "status": 1, "checksum": "bogus"}`, "10.0.0.1:5000"))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "unauthorized", resp.Code)
}

func TestHandleCallback_SignedNotificationAccepted(t *testing.T) {
	secret := "shared-secret"
	g, err := notification.NewGate(config.NotificationConfig{
		AllowedOrigins: []string{"0.0.0.0/0"},
		Secret:         secret,
	})
	require.NoError(t, err)
	handler := &stubNotificationHandler{
		handleFunc: func(ctx context.Context, n *notification.Notification) error { return nil },
	}
	c := NewNotificationController(g, handler, zerolog.Nop())

	fields := map[string]any{"mdOrder": "ord-1", "operation": "deposited", "status": 1}
	checksum, err := notification.Sign([]byte(secret), fields)
	require.NoError(t, err)
	body := fmt.Sprintf(`{"mdOrder": "ord-1", "operation": "deposited", "status": 1, "checksum": %q}`, checksum)

	rr := httptest.NewRecorder()
	c.HandleCallback(rr, callbackRequest(body, "10.0.0.1:5000"))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleCallback_UnknownPaymentIsAcknowledged(t *testing.T) {
	handler := &stubNotificationHandler{
		handleFunc: func(ctx context.Context, n *notification.Notification) error {
			return domainErrors.NewDomainError("payment_not_found", "no such payment", domainErrors.ErrPaymentNotFound)
		},
	}
	c := NewNotificationController(openGate(t), handler, zerolog.Nop())

	rr := httptest.NewRecorder()
	c.HandleCallback(rr, callbackRequest(`{"mdOrder": "ord-unknown", "status": 1}`, "10.0.0.1:5000"))

	assert.Equal(t, http.StatusOK, rr.Code, "unknown payments are acknowledged to stop gateway retries")
	var resp CallbackResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Accepted)
}

func TestHandleCallback_MissingOrderIdentity(t *testing.T) {
	handler := &stubNotificationHandler{
		handleFunc: func(ctx context.Context, n *notification.Notification) error { return nil },
	}
	c := NewNotificationController(openGate(t), handler, zerolog.Nop())

	rr := httptest.NewRecorder()
	c.HandleCallback(rr, callbackRequest(`{"operation": "deposited", "status": 1}`, "10.0.0.1:5000"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleCallback_HandlerFailure(t *testing.T) {
	handler := &stubNotificationHandler{
		handleFunc: func(ctx context.Context, n *notification.Notification) error {
			return domainErrors.NewDomainError("gateway_unavailable", "db down", domainErrors.ErrGatewayUnavailable)
		},
	}
	c := NewNotificationController(openGate(t), handler, zerolog.Nop())

	rr := httptest.NewRecorder()
	c.HandleCallback(rr, callbackRequest(`{"mdOrder": "ord-1", "status": 1}`, "10.0.0.1:5000"))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
