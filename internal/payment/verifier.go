package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"github.com/orca-network/orca-go-sdk/internal/x402"
)

// Verifier runs the x402 negotiation for one request. It holds no
// per-request state: a challenge is a pure function of the requirements, so
// any token this agent produced can be verified without a server-side
// record.
type Verifier struct {
	builder     *x402.RequirementBuilder
	facilitator *FacilitatorClient
	logger      *logrus.Logger
}

func NewVerifier(builder *x402.RequirementBuilder, facilitator *FacilitatorClient, logger *logrus.Logger) *Verifier {
	return &Verifier{builder: builder, facilitator: facilitator, logger: logger}
}

// Requirements exposes the underlying builder for callers composing their
// own 402 responses.
func (v *Verifier) Requirements(toolName string) []x402.PaymentRequirement {
	return v.builder.Build(toolName)
}

// Challenge builds the 402 payload: the requirements list and its encoded
// token for the PAYMENT-REQUIRED header.
func (v *Verifier) Challenge(toolName string) ([]x402.PaymentRequirement, string, error) {
	reqs := v.builder.Build(toolName)
	token, err := x402.EncodeChallenge(reqs)
	if err != nil {
		return nil, "", err
	}
	return reqs, token, nil
}

// VerifyProof runs steps 2-4 of the negotiation: local signature check for
// identity proofs, then remote facilitator verification, with the local-dev
// fallback on transport failure.
func (v *Verifier) VerifyProof(ctx context.Context, proofB64 string) error {
	proof, err := x402.DecodePayment(proofB64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	if proof.IsIdentity() {
		if err := v.verifyIdentity(proof); err != nil {
			return err
		}
	}
	// Transfer-authorization proofs carry an EIP-3009 signature the
	// facilitator validates against the token contract; no local check.

	err = v.facilitator.Verify(ctx, proofB64, v.builder.Build(""))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPaymentRejected):
		return err
	case errors.Is(err, ErrFacilitatorUnavailable) && v.facilitator.IsLocal():
		v.logger.WithError(err).Warn("Facilitator unreachable, accepting proof in local-dev mode")
		return nil
	default:
		return err
	}
}

func (v *Verifier) verifyIdentity(proof *x402.PaymentProof) error {
	if proof.Challenge == "" || proof.Signature == "" || proof.Address == "" {
		return fmt.Errorf("%w: identity proof requires challenge, signature and address", ErrInvalidProof)
	}
	sig, err := decodeHex(proof.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	recovered, err := x402.RecoverPersonalSign([]byte(proof.Challenge), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if recovered != common.HexToAddress(proof.Address) {
		return fmt.Errorf("%w: recovered %s, claimed %s", ErrSignatureMismatch, recovered.Hex(), proof.Address)
	}
	return nil
}

// Settle is the best-effort capture after a verified request. A nil receipt
// with no error means the facilitator declined to settle; failures are
// logged, never fatal: the handler result is returned regardless. This is a
// deliberate trust gap, see DESIGN.md.
func (v *Verifier) Settle(ctx context.Context, proofB64 string) SettlementReceipt {
	receipt, err := v.facilitator.Settle(ctx, proofB64, v.builder.Build(""))
	if err != nil {
		v.logger.WithError(err).Warn("Settlement failed, returning result anyway")
		return nil
	}
	return receipt
}

// CheckToolPayment enforces a tool-scoped paywall. Free tools pass with any
// (or no) proof. Priced tools require a proof whose challenge names the
// tool's resource; every violation surfaces as *x402.ToolPaywallError so
// the gateway can answer with a tool-specific 402.
func (v *Verifier) CheckToolPayment(toolName, proofB64 string) error {
	if _, priced := v.builder.ToolPrice(toolName); !priced {
		return nil
	}
	if proofB64 == "" {
		return &x402.ToolPaywallError{Tool: toolName}
	}
	proof, err := x402.DecodePayment(proofB64)
	if err != nil || proof.Challenge == "" {
		return &x402.ToolPaywallError{Tool: toolName}
	}
	reqs, err := x402.DecodeChallenge(proof.Challenge)
	if err != nil || len(reqs) == 0 {
		return &x402.ToolPaywallError{Tool: toolName}
	}
	if reqs[0].Resource != "/tool/"+toolName {
		return &x402.ToolPaywallError{Tool: toolName}
	}
	if err := v.verifyIdentity(proof); err != nil {
		return &x402.ToolPaywallError{Tool: toolName}
	}
	return nil
}

func decodeHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}
