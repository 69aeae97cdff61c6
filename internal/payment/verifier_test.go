package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orca-network/orca-go-sdk/internal/x402"
)

func testBuilder() *x402.RequirementBuilder {
	return &x402.RequirementBuilder{
		Network:       "eip155:338",
		Token:         "0xc01efAaF7C5C61bEbFAeb358E1161b537b8bC0e0",
		EscrowAddress: "0x71be791E25abacA49FEaD19054FB044686c90c3b",
		BasePrice:     "10000",
		ToolPrices:    map[string]string{"query_market_data": "5000"},
	}
}

func testVerifier(t *testing.T, facilitatorURL string) *Verifier {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	fc := NewFacilitatorClient(facilitatorURL, 2*time.Second, logger)
	return NewVerifier(testBuilder(), fc, logger)
}

// fakeFacilitator answers /verify with the given body and status.
func fakeFacilitator(t *testing.T, status int, body verifyResponse) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var req verifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.PaymentHeader)
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func identityProofToken(t *testing.T, v *Verifier, mutate func(*x402.PaymentProof)) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	_, token, err := v.Challenge("")
	require.NoError(t, err)

	sig, err := x402.SignPersonal([]byte(token), key)
	require.NoError(t, err)

	proof := &x402.PaymentProof{
		Challenge: token,
		Signature: hexutil.Encode(sig),
		Address:   crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}
	if mutate != nil {
		mutate(proof)
	}
	encoded, err := x402.EncodePayment(proof)
	require.NoError(t, err)
	return encoded
}

func TestChallenge(t *testing.T) {
	v := testVerifier(t, "http://localhost:9999")

	reqs, token, err := v.Challenge("")
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "/agent", reqs[0].Resource)
	assert.Equal(t, "10000", reqs[0].MaxAmountRequired)

	decoded, err := x402.DecodeChallenge(token)
	require.NoError(t, err)
	assert.Equal(t, reqs, decoded)
}

func TestVerifyProofIdentity(t *testing.T) {
	srv := fakeFacilitator(t, http.StatusOK, verifyResponse{Valid: true})
	v := testVerifier(t, srv.URL)

	token := identityProofToken(t, v, nil)
	assert.NoError(t, v.VerifyProof(context.Background(), token))
}

func TestVerifyProofAddressMismatch(t *testing.T) {
	srv := fakeFacilitator(t, http.StatusOK, verifyResponse{Valid: true})
	v := testVerifier(t, srv.URL)

	token := identityProofToken(t, v, func(p *x402.PaymentProof) {
		p.Address = "0x0000000000000000000000000000000000000001"
	})
	err := v.VerifyProof(context.Background(), token)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerifyProofGarbage(t *testing.T) {
	v := testVerifier(t, "http://localhost:9999")
	err := v.VerifyProof(context.Background(), "not-base64!!!")
	assert.ErrorIs(t, err, ErrInvalidProof)
}

func TestVerifyProofFacilitatorRejects(t *testing.T) {
	srv := fakeFacilitator(t, http.StatusOK, verifyResponse{Valid: false, InvalidReason: "expired authorization"})
	v := testVerifier(t, srv.URL)

	err := v.VerifyProof(context.Background(), identityProofToken(t, v, nil))
	assert.ErrorIs(t, err, ErrPaymentRejected)
	assert.Contains(t, err.Error(), "expired authorization")
}

func TestVerifyProofLocalFallback(t *testing.T) {
	// httptest binds 127.0.0.1, so closing the server leaves an unreachable
	// local endpoint: the exact shape of a dev facilitator that is down.
	srv := fakeFacilitator(t, http.StatusOK, verifyResponse{Valid: true})
	v := testVerifier(t, srv.URL)
	token := identityProofToken(t, v, nil)
	srv.Close()

	assert.NoError(t, v.VerifyProof(context.Background(), token))
}

func TestVerifyProofRemoteUnavailable(t *testing.T) {
	v := testVerifier(t, "http://facilitator.invalid:4021")
	err := v.VerifyProof(context.Background(), identityProofToken(t, v, nil))
	assert.ErrorIs(t, err, ErrFacilitatorUnavailable)
}

func TestVerifyProofFacilitator5xx(t *testing.T) {
	srv := fakeFacilitator(t, http.StatusBadGateway, verifyResponse{})
	v := testVerifier(t, srv.URL)

	// 5xx counts as unavailable, and httptest is local, so the fallback
	// accepts the proof.
	assert.NoError(t, v.VerifyProof(context.Background(), identityProofToken(t, v, nil)))
}

func TestSettle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/settle", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "txHash": "0xabc"})
	}))
	defer srv.Close()
	v := testVerifier(t, srv.URL)

	receipt := v.Settle(context.Background(), identityProofToken(t, v, nil))
	require.NotNil(t, receipt)
	assert.Equal(t, "0xabc", receipt["txHash"])
}

func TestSettleFailureIsNonFatal(t *testing.T) {
	v := testVerifier(t, "http://facilitator.invalid:4021")
	assert.Nil(t, v.Settle(context.Background(), identityProofToken(t, v, nil)))
}

func TestCheckToolPayment(t *testing.T) {
	v := testVerifier(t, "http://localhost:9999")

	toolProof := func(t *testing.T, tool string, mutate func(*x402.PaymentProof)) string {
		t.Helper()
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		_, token, err := v.Challenge(tool)
		require.NoError(t, err)
		sig, err := x402.SignPersonal([]byte(token), key)
		require.NoError(t, err)
		proof := &x402.PaymentProof{
			Challenge: token,
			Signature: hexutil.Encode(sig),
			Address:   crypto.PubkeyToAddress(key.PublicKey).Hex(),
		}
		if mutate != nil {
			mutate(proof)
		}
		encoded, err := x402.EncodePayment(proof)
		require.NoError(t, err)
		return encoded
	}

	t.Run("free tool needs nothing", func(t *testing.T) {
		assert.NoError(t, v.CheckToolPayment("ping", ""))
	})

	t.Run("priced tool without proof", func(t *testing.T) {
		err := v.CheckToolPayment("query_market_data", "")
		var pe *x402.ToolPaywallError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "query_market_data", pe.Tool)
	})

	t.Run("valid tool proof", func(t *testing.T) {
		assert.NoError(t, v.CheckToolPayment("query_market_data", toolProof(t, "query_market_data", nil)))
	})

	t.Run("proof for the wrong resource", func(t *testing.T) {
		// Signed over the agent-level challenge, not the tool's.
		err := v.CheckToolPayment("query_market_data", identityProofToken(t, v, nil))
		var pe *x402.ToolPaywallError
		assert.ErrorAs(t, err, &pe)
	})

	t.Run("bad signature", func(t *testing.T) {
		mutated := toolProof(t, "query_market_data", func(p *x402.PaymentProof) {
			p.Address = "0x0000000000000000000000000000000000000002"
		})
		var pe *x402.ToolPaywallError
		assert.ErrorAs(t, v.CheckToolPayment("query_market_data", mutated), &pe)
	})
}
