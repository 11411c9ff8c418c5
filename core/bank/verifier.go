// Package bank verifies service account numbers against the bank's billing
// API.
package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"log/slog"

	"github.com/mukisa/paybot/core/logger"
	"github.com/mukisa/paybot/core/session"
)

// Config locates the account verification endpoint.
type Config struct {
	AccountEndpoint string
	Timeout         time.Duration
}

// Verifier checks account numbers over the bank's HTTP API.
type Verifier struct {
	cfg  Config
	http *http.Client
}

// NewVerifier returns a Verifier with a bounded request timeout.
func NewVerifier(cfg Config) *Verifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Verifier{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type verifyRequest struct {
	Service       string `json:"service"`
	AccountNumber string `json:"account_number"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

// VerifyAccount reports whether the number exists for the given service.
// An error means the upstream could not answer, not that the account is bad.
func (v *Verifier) VerifyAccount(ctx context.Context, service session.Service, number string) (bool, error) {
	payload, err := json.Marshal(verifyRequest{
		Service:       string(service),
		AccountNumber: number,
	})
	if err != nil {
		return false, fmt.Errorf("bank: encode verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.AccountEndpoint, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("bank: build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := v.http.Do(req)
	if err != nil {
		logger.Warn(ctx, "bank", "bank.verify.failed",
			slog.String("service", string(service)),
			slog.Duration("duration", time.Since(start)),
			slog.Any("err", err),
		)
		return false, fmt.Errorf("bank: verify account: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		// The API answers 404 for unknown accounts.
		return false, nil
	default:
		logger.Warn(ctx, "bank", "bank.verify.status",
			slog.String("service", string(service)),
			slog.Int("http_code", resp.StatusCode),
		)
		return false, fmt.Errorf("bank: verify account: unexpected status %d", resp.StatusCode)
	}

	var body verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("bank: decode verify response: %w", err)
	}
	logger.Debug(ctx, "bank", "bank.verify.ok",
		slog.String("service", string(service)),
		slog.Duration("duration", time.Since(start)),
	)
	return body.Valid, nil
}

// StaticVerifier answers from a fixed allowlist. It backs deployments
// without an account API and the sandbox environment's well-known numbers.
type StaticVerifier struct {
	known map[session.Service]map[string]bool
}

// NewStaticVerifier returns a verifier over the given allowlist.
func NewStaticVerifier(known map[session.Service][]string) *StaticVerifier {
	v := &StaticVerifier{known: make(map[session.Service]map[string]bool, len(known))}
	for svc, numbers := range known {
		set := make(map[string]bool, len(numbers))
		for _, n := range numbers {
			set[n] = true
		}
		v.known[svc] = set
	}
	return v
}

// SandboxVerifier carries the sandbox environment's test account numbers.
func SandboxVerifier() *StaticVerifier {
	return NewStaticVerifier(map[session.Service][]string{
		session.ServiceTV:    {"12345"},
		session.ServiceWater: {"67890"},
		session.ServiceUmeme: {"54321"},
	})
}

func (v *StaticVerifier) VerifyAccount(_ context.Context, service session.Service, number string) (bool, error) {
	return v.known[service][number], nil
}
