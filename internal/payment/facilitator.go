package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/orca-network/orca-go-sdk/internal/x402"
)

// verifyRequest is the body POSTed to the facilitator's /verify and /settle
// endpoints.
type verifyRequest struct {
	PaymentHeader       string                    `json:"paymentHeader"`
	PaymentRequirements []x402.PaymentRequirement `json:"paymentRequirements"`
}

type verifyResponse struct {
	Valid         bool   `json:"valid"`
	InvalidReason string `json:"invalidReason,omitempty"`
}

// SettlementReceipt is the facilitator's settle response, passed through to
// the caller untouched.
type SettlementReceipt map[string]any

// FacilitatorClient talks to an external x402 facilitator service.
type FacilitatorClient struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Logger
}

func NewFacilitatorClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *FacilitatorClient {
	return &FacilitatorClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// IsLocal reports whether the facilitator is a local development endpoint.
// Only then is a transport failure allowed to degrade to "verified".
func (c *FacilitatorClient) IsLocal() bool {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1" || host == "0.0.0.0"
}

func (c *FacilitatorClient) post(ctx context.Context, path string, body verifyRequest) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("payment: marshal facilitator request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

// Verify submits the proof and expected requirements to the facilitator.
// An explicit rejection returns ErrPaymentRejected; a transport failure is
// wrapped in ErrFacilitatorUnavailable so the caller can decide whether the
// local-dev fallback applies.
func (c *FacilitatorClient) Verify(ctx context.Context, paymentHeader string, reqs []x402.PaymentRequirement) error {
	resp, err := c.post(ctx, "/verify", verifyRequest{PaymentHeader: paymentHeader, PaymentRequirements: reqs})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrFacilitatorUnavailable, resp.StatusCode)
	}

	var vr verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrFacilitatorUnavailable, err)
	}
	if !vr.Valid {
		if vr.InvalidReason != "" {
			return fmt.Errorf("%w: %s", ErrPaymentRejected, vr.InvalidReason)
		}
		return ErrPaymentRejected
	}
	return nil
}

// Settle asks the facilitator to capture the payment. Best effort: callers
// log a failure and move on.
func (c *FacilitatorClient) Settle(ctx context.Context, paymentHeader string, reqs []x402.PaymentRequirement) (SettlementReceipt, error) {
	resp, err := c.post(ctx, "/settle", verifyRequest{PaymentHeader: paymentHeader, PaymentRequirements: reqs})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payment: settle returned status %d", resp.StatusCode)
	}
	var receipt SettlementReceipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("payment: decode settle response: %w", err)
	}
	return receipt, nil
}
