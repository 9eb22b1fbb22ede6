package notification

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"strings"

	domainErrors "github.com/paylink/qrpay/internal/domain/errors"
	"github.com/paylink/qrpay/internal/infrastructure/config"
)

// Notification is a push status update from the gateway. Either OrderID (the
// gateway-assigned order identity) or OrderNumber (the merchant-side order
// number) identifies the payment.
type Notification struct {
	OrderID          string         `json:"mdOrder"`
	OrderNumber      string         `json:"orderNumber"`
	Operation        string         `json:"operation"`
	Status           int            `json:"status"`
	AdditionalParams map[string]any `json:"additionalParams"`
}

const checksumField = "checksum"

// Gate admits inbound notifications. The source address must fall into the
// configured allow-list and, when a shared secret is set, the payload
// checksum must verify. A failed verification blocks processing entirely
// rather than degrading to an unauthenticated update.
type Gate struct {
	allowed []*net.IPNet
	secret  []byte
}

func NewGate(cfg config.NotificationConfig) (*Gate, error) {
	g := &Gate{}
	if cfg.Secret != "" {
		g.secret = []byte(cfg.Secret)
	}
	for _, origin := range cfg.AllowedOrigins {
		cidr := origin
		if !strings.Contains(cidr, "/") {
			if strings.Contains(cidr, ":") {
				cidr += "/128"
			} else {
				cidr += "/32"
			}
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid notification origin %q: %w", origin, err)
		}
		g.allowed = append(g.allowed, ipNet)
	}
	return g, nil
}

// Admit checks source address and payload integrity. Failures come back as
// ErrUnauthorized wrapped in a DomainError naming the cause.
func (g *Gate) Admit(remoteAddr string, body []byte) error {
	if !g.allowOrigin(remoteAddr) {
		return domainErrors.NewDomainError(
			"origin_not_allowed",
			fmt.Sprintf("notification source %s not in allow-list", remoteAddr),
			domainErrors.ErrUnauthorized,
		)
	}
	return g.verifyChecksum(body)
}

func (g *Gate) allowOrigin(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range g.allowed {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// verifyChecksum recomputes the HMAC-SHA256 of the payload with the checksum
// field removed and the remaining keys in sorted order, then compares in
// constant time. An empty secret disables the check.
func (g *Gate) verifyChecksum(body []byte) error {
	if len(g.secret) == 0 {
		return nil
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return domainErrors.NewDomainError(
			"bad_payload",
			"notification payload is not valid JSON",
			domainErrors.ErrUnauthorized,
		)
	}

	claimed, _ := fields[checksumField].(string)
	if claimed == "" {
		return domainErrors.NewDomainError(
			"checksum_missing",
			"notification carries no checksum",
			domainErrors.ErrUnauthorized,
		)
	}
	delete(fields, checksumField)

	// encoding/json writes map keys in sorted order, which is exactly the
	// canonical form the sender signs.
	canonical, err := json.Marshal(fields)
	if err != nil {
		return domainErrors.NewDomainError(
			"bad_payload",
			"cannot canonicalize notification payload",
			domainErrors.ErrUnauthorized,
		)
	}

	mac := hmac.New(sha256.New, g.secret)
	mac.Write(canonical)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(claimed))) {
		return domainErrors.NewDomainError(
			"checksum_mismatch",
			"notification checksum verification failed",
			domainErrors.ErrUnauthorized,
		)
	}
	return nil
}

// Sign computes the checksum the gate expects for the given payload fields.
// Used by tests and by outbound webhook simulation tooling.
func Sign(secret []byte, fields map[string]any) (string, error) {
	canonical, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Parse decodes a notification payload.
func Parse(body []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, domainErrors.NewDomainError(
			"bad_payload",
			"cannot decode notification payload",
			domainErrors.ErrInvalidInput,
		)
	}
	if n.OrderID == "" && n.OrderNumber == "" {
		return nil, domainErrors.NewDomainError(
			"bad_payload",
			"notification carries no order identity",
			domainErrors.ErrInvalidInput,
		)
	}
	return &n, nil
}
