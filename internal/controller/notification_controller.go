package controller

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	domainErrors "github.com/paylink/qrpay/internal/domain/errors"
	"github.com/paylink/qrpay/internal/notification"
)

const maxCallbackBodySize = 1 << 20

// NotificationHandler applies a verified gateway notification.
// Implemented by service.Orchestrator.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, n *notification.Notification) error
}

// NotificationController receives push callbacks from the gateway.
type NotificationController struct {
	gate    *notification.Gate
	handler NotificationHandler
	logger  zerolog.Logger
}

func NewNotificationController(gate *notification.Gate, handler NotificationHandler, logger zerolog.Logger) *NotificationController {
	return &NotificationController{
		gate:    gate,
		handler: handler,
		logger:  logger.With().Str("component", "notification_controller").Logger(),
	}
}

// HandleCallback handles POST /api/v1/callback/payment. Unauthorized senders
// get 401 and the payload is dropped. A notification for an unknown payment
// is acknowledged with 200 anyway: the gateway would otherwise retry forever
// for a payment this instance will never know about.
func (c *NotificationController) HandleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "cannot read body", Code: "bad_request"})
		return
	}

	if err := c.gate.Admit(r.RemoteAddr, body); err != nil {
		c.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("notification rejected")
		writeError(w, err)
		return
	}

	n, err := notification.Parse(body)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := c.handler.HandleNotification(r.Context(), n); err != nil {
		if errors.Is(err, domainErrors.ErrPaymentNotFound) {
			c.logger.Warn().
				Str("order_id", n.OrderID).
				Str("order_number", n.OrderNumber).
				Msg("notification for unknown payment")
			writeJSON(w, http.StatusOK, CallbackResponse{Accepted: false})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CallbackResponse{Accepted: true})
}
