package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	domainErrors "github.com/paylink/qrpay/internal/domain/errors"
	"github.com/paylink/qrpay/internal/infrastructure/config"
	"github.com/paylink/qrpay/internal/infrastructure/observability"
	"github.com/paylink/qrpay/pkg/retry"
)

// HTTPClient implements Client against the gateway's form-encoded REST API.
// Transport faults are retried with backoff; HTTP errors and gateway declines
// are not, since the gateway may already have acted on the request. All calls
// go through a shared circuit breaker.
type HTTPClient struct {
	cfg        config.GatewayConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	retryCfg   retry.Config
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func NewHTTPClient(cfg config.GatewayConfig, metrics *observability.Metrics, logger zerolog.Logger) *HTTPClient {
	settings := gobreaker.Settings{
		Name:    "payment-gateway",
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= cfg.BreakerMinRequests &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.BreakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			if metrics != nil {
				metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	}

	c := &HTTPClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
		metrics: metrics,
		logger:  logger.With().Str("component", "gateway").Logger(),
	}
	c.retryCfg = retry.Config{
		MaxAttempts:  cfg.RetryAttempts,
		InitialDelay: cfg.RetryBaseDelay,
		MaxDelay:     10 * cfg.RetryBaseDelay,
		RetryIf:      isTransient,
		OnRetry: func(attempt uint, err error) {
			c.logger.Warn().Uint("attempt", attempt).Err(err).Msg("retrying gateway request")
		},
	}
	return c
}

func (c *HTTPClient) CreateQR(ctx context.Context, order CreateQROrder) (*CreateQRResult, error) {
	params := url.Values{}
	params.Set("orderNumber", order.OrderNumber)
	params.Set("amount", strconv.FormatInt(order.AmountMinorUnits, 10))
	params.Set("sessionTimeoutSecs", strconv.Itoa(int(c.cfg.SessionTimeout.Seconds())))
	if order.Description != "" {
		params.Set("description", order.Description)
	}
	if c.cfg.ReturnURL != "" {
		params.Set("returnUrl", c.cfg.ReturnURL)
	}
	if c.cfg.FailURL != "" {
		params.Set("failUrl", c.cfg.FailURL)
	}

	body, err := c.call(ctx, "register.do", params)
	if err != nil {
		return nil, err
	}
	resp, err := decode[registerResponse](body)
	if err != nil {
		return nil, err
	}

	return &CreateQRResult{
		OrderID:   resp.OrderID,
		QRPayload: resp.ExternalParams.SBPPayload,
		FormURL:   resp.FormURL,
		Business:  resp.business(),
	}, nil
}

func (c *HTTPClient) GetStatus(ctx context.Context, providerOrderID string) (*StatusResult, error) {
	params := url.Values{}
	params.Set("orderId", providerOrderID)

	body, err := c.call(ctx, "getOrderStatusExtended.do", params)
	if err != nil {
		return nil, err
	}
	resp, err := decode[statusResponse](body)
	if err != nil {
		return nil, err
	}

	result := &StatusResult{
		OrderStatus:           resp.OrderStatus,
		ActionCode:            resp.ActionCode,
		ActionCodeDescription: resp.ActionCodeDescription,
		AmountMinorUnits:      resp.Amount,
		Business:              resp.business(),
	}
	if resp.DepositedDate > 0 {
		t := time.UnixMilli(resp.DepositedDate).UTC()
		result.DepositedAt = &t
	}
	return result, nil
}

func (c *HTTPClient) Cancel(ctx context.Context, providerOrderID string) (*OperationResult, error) {
	params := url.Values{}
	params.Set("orderId", providerOrderID)

	body, err := c.call(ctx, "reverse.do", params)
	if err != nil {
		return nil, err
	}
	resp, err := decode[operationResponse](body)
	if err != nil {
		return nil, err
	}
	return &OperationResult{Business: resp.business()}, nil
}

func (c *HTTPClient) Refund(ctx context.Context, providerOrderID string, amountMinorUnits int64) (*OperationResult, error) {
	params := url.Values{}
	params.Set("orderId", providerOrderID)
	params.Set("amount", strconv.FormatInt(amountMinorUnits, 10))

	body, err := c.call(ctx, "refund.do", params)
	if err != nil {
		return nil, err
	}
	resp, err := decode[operationResponse](body)
	if err != nil {
		return nil, err
	}
	return &OperationResult{Business: resp.business()}, nil
}

// call runs one gateway exchange through the breaker and the retry policy.
// Any error coming out of here wraps ErrGatewayUnavailable: callers only need
// to know the exchange failed, the attempt classification already happened.
func (c *HTTPClient) call(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	params.Set("userName", c.cfg.Username)
	params.Set("password", c.cfg.Password)

	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return retry.DoWithResult(ctx, c.retryCfg, func() ([]byte, error) {
			return c.post(ctx, endpoint, params)
		})
	})
	c.observe(endpoint, start, err)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domainErrors.NewDomainError(
				"gateway_unavailable",
				"gateway circuit breaker is open",
				domainErrors.ErrGatewayUnavailable,
			)
		}
		return nil, domainErrors.NewDomainError(
			"gateway_unavailable",
			fmt.Sprintf("%s request failed: %v", endpoint, err),
			domainErrors.ErrGatewayUnavailable,
		)
	}
	return body, nil
}

func (c *HTTPClient) post(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.cfg.BaseURL+"/"+endpoint,
		strings.NewReader(params.Encode()),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode}
	}
	return body, nil
}

func (c *HTTPClient) observe(endpoint string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.GatewayRequestsTotal.WithLabelValues(endpoint, status).Inc()
	c.metrics.GatewayRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// isTransient keeps retries to transport-level faults. A definite HTTP status
// means the gateway received the request, so the attempt is not repeated.
func isTransient(err error) bool {
	var httpErr *HTTPError
	return !errors.As(err, &httpErr)
}

func decode[T any](body []byte) (*T, error) {
	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, domainErrors.NewDomainError(
			"gateway_protocol",
			"cannot decode gateway response",
			domainErrors.ErrGatewayProtocol,
		)
	}
	return &out, nil
}

// flexCode tolerates both string and numeric error codes; the gateway is not
// consistent about this across endpoints.
type flexCode string

func (f *flexCode) UnmarshalJSON(b []byte) error {
	*f = flexCode(strings.Trim(string(b), `"`))
	return nil
}

type apiError struct {
	ErrorCode    flexCode `json:"errorCode"`
	ErrorMessage string   `json:"errorMessage"`
}

// business interprets the error fields: codes "" and "0" mean success.
func (a apiError) business() *BusinessError {
	code := string(a.ErrorCode)
	if code == "" || code == "0" {
		return nil
	}
	return &BusinessError{Code: code, Message: a.ErrorMessage}
}

type registerResponse struct {
	apiError
	OrderID        string `json:"orderId"`
	FormURL        string `json:"formUrl"`
	ExternalParams struct {
		SBPPayload string `json:"sbpPayload"`
	} `json:"externalParams"`
}

type statusResponse struct {
	apiError
	OrderStatus           int    `json:"orderStatus"`
	ActionCode            int    `json:"actionCode"`
	ActionCodeDescription string `json:"actionCodeDescription"`
	Amount                int64  `json:"amount"`
	DepositedDate         int64  `json:"depositedDate"` // unix millis, 0 when absent
}

type operationResponse struct {
	apiError
}
