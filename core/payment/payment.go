// Package payment mints secure card payment links for the gateway and backs
// the short links handed to users.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/mukisa/paybot/core/logger"
	"github.com/mukisa/paybot/core/session"
)

// secureHashType is the only hash scheme the gateway accepts.
const secureHashType = "SHA256"

// Config holds the gateway credentials and link settings.
type Config struct {
	// BaseURL is the gateway checkout endpoint.
	BaseURL string
	// Currency is the ISO code sent with every order.
	Currency string
	// CustomerCode identifies the merchant at the gateway.
	CustomerCode string
	// SecureSecret is the hex-encoded HMAC key shared with the gateway.
	SecureSecret string
	// ShortBaseURL is the public origin serving /s/{code} redirects.
	ShortBaseURL string
}

// LinkSpec carries the per-order inputs for one payment link.
type LinkSpec struct {
	OrderID   string
	Service   session.Service
	Amount    string
	PayerName string
	Email     string
}

// Details are the gateway order fields as they appear in the signed URL.
type Details struct {
	Amount       string
	Currency     string
	CustomerCode string
	OrderID      string
	PayerName    string
	TransDetails string
	TransDate    string
	Email        string
}

// ShortLinkStore persists short code to URL mappings.
type ShortLinkStore interface {
	SaveLink(ctx context.Context, code, url string) error
	// ResolveLink returns the stored URL, or ok=false when the code is
	// unknown.
	ResolveLink(ctx context.Context, code string) (string, bool, error)
}

// Service builds signed checkout URLs and shortens them for chat delivery.
type Service struct {
	cfg    Config
	secret []byte
	links  ShortLinkStore
}

// New validates the configuration and returns a ready Service.
func New(cfg Config, links ShortLinkStore) (*Service, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("payment: base url is required")
	}
	secret, err := hex.DecodeString(cfg.SecureSecret)
	if err != nil {
		return nil, fmt.Errorf("payment: secure secret is not valid hex: %w", err)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("payment: secure secret is empty")
	}
	if cfg.Currency == "" {
		cfg.Currency = "UGX"
	}
	return &Service{cfg: cfg, secret: secret, links: links}, nil
}

// GenerateLink signs a checkout URL for the order and returns a short link
// pointing at it.
func (s *Service) GenerateLink(ctx context.Context, spec LinkSpec) (string, error) {
	if spec.OrderID == "" {
		spec.OrderID = NewOrderID()
	}
	d := Details{
		Amount:       spec.Amount,
		Currency:     s.cfg.Currency,
		CustomerCode: s.cfg.CustomerCode,
		OrderID:      spec.OrderID,
		PayerName:    formatName(spec.PayerName),
		TransDetails: transDetails(spec.Service),
		TransDate:    transDate(time.Now().UTC()),
		Email:        spec.Email,
	}
	full := s.checkoutURL(d)

	code := NewShortCode(8)
	if err := s.links.SaveLink(ctx, code, full); err != nil {
		return "", fmt.Errorf("payment: save short link: %w", err)
	}
	logger.Info(ctx, "pay", "pay.link.created",
		slog.String("order_id", d.OrderID),
		slog.String("service", string(spec.Service)),
		slog.String("code", code),
	)
	return strings.TrimRight(s.cfg.ShortBaseURL, "/") + "/s/" + code, nil
}

// Resolve maps a short code back to its checkout URL.
func (s *Service) Resolve(ctx context.Context, code string) (string, bool, error) {
	return s.links.ResolveLink(ctx, code)
}

// checkoutURL assembles the gateway URL. The gateway recomputes the HMAC
// over the raw field string, so fields are concatenated exactly as signed,
// not re-encoded.
func (s *Service) checkoutURL(d Details) string {
	hashInput := "gtp_Amount=" + d.Amount +
		"&gtp_Currency=" + d.Currency +
		"&gtp_CustomerCode=" + d.CustomerCode +
		"&gtp_OrderId=" + d.OrderID +
		"&gtp_PayerName=" + d.PayerName +
		"&gtp_TransDetails=" + d.TransDetails

	hash := s.secureHash(hashInput)

	return s.cfg.BaseURL + "?" + hashInput +
		"&gtp_TransDate=" + d.TransDate +
		"&gtp_SecureHash=" + hash +
		"&gtp_SecureHashType=" + secureHashType +
		"&gtp_EmailAddress=" + d.Email
}

// secureHash signs the field string with the shared secret. The hash type is
// appended to the input before signing and the digest is uppercase hex.
func (s *Service) secureHash(input string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(input + secureHashType))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// NewOrderID returns a unique, roughly time-ordered order id.
func NewOrderID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return "ORD-" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + suffix
}

// transDate renders the order timestamp the way the gateway expects:
// ISO-8601 with colons and dots replaced by hyphens and no sub-second part.
func transDate(t time.Time) string {
	return t.Format("2006-01-02T15-04-05") + "Z"
}

// formatName collapses whitespace runs into single hyphens so the value
// survives unencoded URL transport.
func formatName(name string) string {
	return strings.Join(strings.Fields(name), "-")
}

func transDetails(svc session.Service) string {
	return "Payment-for-" + string(svc)
}
