package x402

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	canonicaljson "github.com/gibson042/canonicaljson-go"
)

// ErrInvalidToken is returned when a token cannot be decoded.
var ErrInvalidToken = errors.New("x402: invalid token")

// EncodeChallenge wraps the requirements in {"accepts":[...]} and encodes
// them as base64. Canonical JSON keeps the token a pure function of the
// requirements: no randomness, no map-order dependence.
func EncodeChallenge(reqs []PaymentRequirement) (string, error) {
	b, err := canonicaljson.Marshal(Challenge{Accepts: reqs})
	if err != nil {
		return "", fmt.Errorf("x402: encode challenge: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeChallenge reverses EncodeChallenge. DecodeChallenge(EncodeChallenge(r))
// returns r for any well-formed requirements list.
func DecodeChallenge(token string) ([]PaymentRequirement, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var c Challenge
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return c.Accepts, nil
}

// EncodePayment encodes a proof for the X-PAYMENT header.
func EncodePayment(p *PaymentProof) (string, error) {
	b, err := canonicaljson.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("x402: encode payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodePayment decodes an X-PAYMENT header value.
func DecodePayment(token string) (*PaymentProof, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var p PaymentProof
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &p, nil
}
