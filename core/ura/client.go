// Package ura is a SOAP client for the tax authority's PRN endpoints:
// reference lookup and mobile-money transaction completion.
package ura

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/mukisa/paybot/core/logger"
	"github.com/mukisa/paybot/core/netutil"
)

// PRN status codes returned by the details endpoint.
const (
	StatusInvalid = "N"
	StatusActive  = "A"
	StatusPaid    = "T"
)

// Completion codes returned by the universal complete-transaction endpoint.
const (
	CodeCompleted  = "1000"
	CodeInvalidPRN = "1013"
)

// Config locates the upstream endpoints.
type Config struct {
	DetailsEndpoint  string
	CompleteEndpoint string
	Timeout          time.Duration
}

// Client talks SOAP to the tax authority.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient returns a Client with a bounded request timeout.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// DetailsResult is the parsed PRN lookup answer.
type DetailsResult struct {
	PRN          string
	StatusCode   string
	StatusDesc   string
	Amount       string
	CurrencyCode string
	ExpiryDate   string
	TaxpayerName string
}

// CompleteResult is the parsed answer to a completion request.
type CompleteResult struct {
	Code      string
	Status    string
	PRN       string
	Reference string
}

// GetPRNDetails looks up a PRN and returns its payment status and amounts.
func (c *Client) GetPRNDetails(ctx context.Context, prn string) (DetailsResult, error) {
	envelope := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <GetPRNDetails_GTPay xmlns="http://tempuri.org/">
      <prn>%s</prn>
    </GetPRNDetails_GTPay>
  </soap:Body>
</soap:Envelope>`, xmlEscape(prn))

	body, err := c.post(ctx, c.cfg.DetailsEndpoint, envelope)
	if err != nil {
		return DetailsResult{}, err
	}

	var parsed struct {
		Body struct {
			Response struct {
				Result struct {
					Prn          string `xml:"Prn"`
					StatusCode   string `xml:"StatusCode"`
					StatusDesc   string `xml:"StatusDesc"`
					Amount       string `xml:"Amount"`
					CurrencyCode string `xml:"CurrencyCode"`
					ExpiryDt     string `xml:"ExpiryDt"`
					TaxpayerName string `xml:"TaxpayerName"`
				} `xml:"GetPRNDetails_GTPayResult"`
			} `xml:"GetPRNDetails_GTPayResponse"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return DetailsResult{}, fmt.Errorf("ura: parse details response: %w", err)
	}

	r := parsed.Body.Response.Result
	if r.StatusCode == "" {
		return DetailsResult{}, fmt.Errorf("ura: details response missing status code")
	}
	res := DetailsResult{
		PRN:          r.Prn,
		StatusCode:   r.StatusCode,
		StatusDesc:   r.StatusDesc,
		Amount:       r.Amount,
		CurrencyCode: r.CurrencyCode,
		ExpiryDate:   r.ExpiryDt,
		TaxpayerName: r.TaxpayerName,
	}
	logger.Debug(ctx, "ura", "ura.prn.details",
		slog.String("prn", res.PRN),
		slog.String("code", res.StatusCode),
	)
	return res, nil
}

// CompleteTransaction asks the authority to bill a PRN against a mobile
// money number.
func (c *Client) CompleteTransaction(ctx context.Context, prn, phone string) (CompleteResult, error) {
	envelope := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <UniversalUraCompleteTransaction xmlns="http://tempuri.org/">
      <PhoneNumber>%s</PhoneNumber>
      <Prn>%s</Prn>
    </UniversalUraCompleteTransaction>
  </soap:Body>
</soap:Envelope>`, xmlEscape(phone), xmlEscape(prn))

	body, err := c.post(ctx, c.cfg.CompleteEndpoint, envelope)
	if err != nil {
		return CompleteResult{}, err
	}

	// The completion endpoint HTML-encodes the inner payload, so entities
	// are decoded before parsing.
	decoded := decodeEntities(string(body))

	var parsed struct {
		Body struct {
			Response struct {
				Result struct {
					Status    string `xml:"STATUS"`
					Code      string `xml:"CODE"`
					PRN       string `xml:"PRN"`
					Reference string `xml:"REFERENCE"`
				} `xml:"UniversalUraCompleteTransactionResult"`
			} `xml:"UniversalUraCompleteTransactionResponse"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal([]byte(decoded), &parsed); err != nil {
		return CompleteResult{}, fmt.Errorf("ura: parse completion response: %w", err)
	}

	r := parsed.Body.Response.Result
	if r.Code == "" {
		return CompleteResult{}, fmt.Errorf("ura: completion response missing code")
	}
	res := CompleteResult{
		Code:      r.Code,
		Status:    r.Status,
		PRN:       r.PRN,
		Reference: r.Reference,
	}
	logger.Debug(ctx, "ura", "ura.prn.complete",
		slog.String("prn", res.PRN),
		slog.String("code", res.Code),
	)
	return res, nil
}

func (c *Client) post(ctx context.Context, endpoint, envelope string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("ura: build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Warn(ctx, "ura", "ura.request.failed",
			slog.String("endpoint", endpoint),
			slog.Duration("duration", time.Since(start)),
			slog.Any("err", err),
		)
		if netutil.ShouldRetry(err) {
			return nil, fmt.Errorf("ura: upstream unreachable: %w", err)
		}
		return nil, fmt.Errorf("ura: call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("ura: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		logger.Warn(ctx, "ura", "ura.request.status",
			slog.String("endpoint", endpoint),
			slog.Int("http_code", resp.StatusCode),
		)
		if netutil.RetryableStatus(resp.StatusCode) {
			return nil, fmt.Errorf("ura: upstream unavailable (%d)", resp.StatusCode)
		}
		return nil, fmt.Errorf("ura: unexpected status %d", resp.StatusCode)
	}
	return body, nil
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// decodeEntities undoes the minimal HTML escaping applied by the upstream.
// Ampersands decode last so double-escaped payloads survive one pass.
func decodeEntities(s string) string {
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&amp;", "&")
	return s
}
