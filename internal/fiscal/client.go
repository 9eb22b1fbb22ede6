package fiscal

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	domainErrors "github.com/paylink/qrpay/internal/domain/errors"
	"github.com/paylink/qrpay/internal/infrastructure/config"
)

// Receipt is one fiscal receipt to issue for a completed payment.
type Receipt struct {
	ExternalID       string
	Account          string
	AmountMinorUnits int64
	Email            *string
	Phone            *string
}

// Result carries the provider's receipt identity.
type Result struct {
	ReceiptID string
}

// Provider issues fiscal receipts. Implementations must be safe to call
// repeatedly for the same ExternalID: the provider deduplicates on it.
type Provider interface {
	IssueReceipt(ctx context.Context, r Receipt) (*Result, error)
}

// HTTPClient implements Provider against the fiscal operator's JSON API.
// Each request is authenticated with a timestamped hash of the credentials,
// so there is no session to maintain.
type HTTPClient struct {
	cfg        config.FiscalConfig
	httpClient *http.Client
	logger     zerolog.Logger

	now func() time.Time
}

func NewHTTPClient(cfg config.FiscalConfig, logger zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With().Str("component", "fiscal").Logger(),
		now:    time.Now,
	}
}

type receiptItem struct {
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

type receiptRequest struct {
	Login      string        `json:"login"`
	Hash       string        `json:"hash"`
	Timestamp  string        `json:"timestamp"`
	PaymentID  string        `json:"payment_id"`
	Pin        string        `json:"pin"`
	ExternalID string        `json:"external_id"`
	Operation  string        `json:"operation"`
	Email      string        `json:"email,omitempty"`
	Phone      string        `json:"phone,omitempty"`
	Receipt    []receiptItem `json:"receipt"`
}

type receiptResponse struct {
	UUID   string `json:"uuid"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (c *HTTPClient) IssueReceipt(ctx context.Context, r Receipt) (*Result, error) {
	ts := c.now().Format("02.01.2006 15:04:05")

	req := receiptRequest{
		Login:      c.cfg.Login,
		Hash:       authHash(c.cfg.Login, c.cfg.Password, ts),
		Timestamp:  ts,
		PaymentID:  c.cfg.PaymentLabel,
		Pin:        r.Account,
		ExternalID: r.ExternalID,
		Operation:  "sell",
		Receipt: []receiptItem{
			{Price: float64(r.AmountMinorUnits) / 100, Quantity: 1},
		},
	}
	if r.Email != nil {
		req.Email = *r.Email
	}
	if r.Phone != nil {
		req.Phone = *r.Phone
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal receipt request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build receipt request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domainErrors.NewDomainError(
			"fiscal_unavailable",
			fmt.Sprintf("receipt request failed: %v", err),
			domainErrors.ErrFiscalUnavailable,
		)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domainErrors.NewDomainError(
			"fiscal_unavailable",
			"cannot read fiscal provider response",
			domainErrors.ErrFiscalUnavailable,
		)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domainErrors.NewDomainError(
			"fiscal_unavailable",
			fmt.Sprintf("fiscal provider returned HTTP %d", resp.StatusCode),
			domainErrors.ErrFiscalUnavailable,
		)
	}

	var parsed receiptResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, domainErrors.NewDomainError(
			"fiscal_unavailable",
			"cannot decode fiscal provider response",
			domainErrors.ErrFiscalUnavailable,
		)
	}
	if parsed.Error != "" {
		return nil, domainErrors.NewDomainError(
			"fiscal_rejected",
			fmt.Sprintf("fiscal provider rejected receipt: %s", parsed.Error),
			domainErrors.ErrFiscalUnavailable,
		)
	}

	receiptID := parsed.UUID
	if receiptID == "" {
		// Some deployments acknowledge without a uuid; keep the ledger entry
		// marked as receipted anyway.
		receiptID = "accepted"
	}

	c.logger.Info().
		Str("external_id", r.ExternalID).
		Str("receipt_id", receiptID).
		Msg("fiscal receipt issued")

	return &Result{ReceiptID: receiptID}, nil
}

// authHash derives the per-request credential: sha1 over the hex md5 of
// login+password+timestamp. Dictated by the provider's API contract.
func authHash(login, password, timestamp string) string {
	inner := md5.Sum([]byte(login + password + timestamp))
	outer := sha1.Sum([]byte(hex.EncodeToString(inner[:])))
	return hex.EncodeToString(outer[:])
}
