package escrow

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/sirupsen/logrus"

	"github.com/orca-network/orca-go-sdk/internal/x402"
)

// RelayClient submits meta-transactions through a gasless relay. The relay
// charges for its service with the same x402 handshake the agent itself
// speaks: phase one submits the signed forward request, and if the relay
// answers 402 the client signs a transfer authorization for the quoted fee
// and resubmits exactly once.
type RelayClient struct {
	baseURL string
	http    *http.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID int64
	logger  *logrus.Logger

	// domain and forward-request types are discovered once and cached.
	// domainMu guards the cache: Execute may run concurrently.
	domainMu sync.Mutex
	domain   *apitypes.TypedDataDomain
	types    apitypes.Types
}

func NewRelayClient(baseURL string, key *ecdsa.PrivateKey, chainID int64, timeout time.Duration, logger *logrus.Logger) *RelayClient {
	return &RelayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		logger:  logger,
	}
}

type metaDomainResponse struct {
	Domain struct {
		Name              string `json:"name"`
		Version           string `json:"version"`
		ChainID           any    `json:"chainId"`
		VerifyingContract string `json:"verifyingContract"`
	} `json:"domain"`
	Types apitypes.Types `json:"types"`
}

// relayRequest is the wire form of a signed ForwardRequest. Numeric fields
// travel as decimal strings.
type relayRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Value    string `json:"value"`
	Gas      string `json:"gas"`
	Nonce    string `json:"nonce"`
	Deadline string `json:"deadline"`
	Data     string `json:"data"`
}

type relayPayload struct {
	Request   relayRequest `json:"request"`
	Signature string       `json:"signature"`
}

// relayAccept is one entry of the relay's 402 body. It predates the token
// field naming used elsewhere: the relay quotes asset and payTo.
type relayAccept struct {
	Asset             string `json:"asset"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	PayTo             string `json:"payTo"`
	Network           string `json:"network"`
}

type relayChallengeBody struct {
	X402 struct {
		Accepts []relayAccept `json:"accepts"`
	} `json:"x402"`
}

func (r *RelayClient) forwardDomain(ctx context.Context) (*apitypes.TypedDataDomain, apitypes.Types, error) {
	r.domainMu.Lock()
	defer r.domainMu.Unlock()
	if r.domain != nil {
		return r.domain, r.types, nil
	}
	var meta metaDomainResponse
	if err := r.getJSON(ctx, "/meta/domain", &meta); err != nil {
		return nil, nil, err
	}
	chainID, err := coerceChainID(meta.Domain.ChainID)
	if err != nil {
		return nil, nil, fmt.Errorf("escrow: relay domain: %w", err)
	}
	r.domain = &apitypes.TypedDataDomain{
		Name:              meta.Domain.Name,
		Version:           meta.Domain.Version,
		ChainId:           chainID,
		VerifyingContract: meta.Domain.VerifyingContract,
	}
	r.types = meta.Types
	if _, ok := r.types["EIP712Domain"]; !ok {
		r.types["EIP712Domain"] = []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		}
	}
	return r.domain, r.types, nil
}

func (r *RelayClient) nonce(ctx context.Context) (uint64, error) {
	var resp struct {
		Nonce json.Number `json:"nonce"`
	}
	if err := r.getJSON(ctx, "/meta/nonce/"+r.from.Hex(), &resp); err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(resp.Nonce.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("escrow: relay nonce %q: %w", resp.Nonce, err)
	}
	return n, nil
}

// Execute forwards calldata to the target contract through the relay and
// returns the transaction hash the relay reports. Any failure, including a
// second 402 after paying the relay fee, is an error: the caller decides
// whether to fall back to a direct transaction.
func (r *RelayClient) Execute(ctx context.Context, to common.Address, calldata []byte, gasLimit uint64) (common.Hash, error) {
	nonce, err := r.nonce(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	domain, fwdTypes, err := r.forwardDomain(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	deadline := time.Now().Unix() + 3600
	req := relayRequest{
		From:     r.from.Hex(),
		To:       to.Hex(),
		Value:    "0",
		Gas:      strconv.FormatUint(gasLimit, 10),
		Nonce:    strconv.FormatUint(nonce, 10),
		Deadline: strconv.FormatInt(deadline, 10),
		Data:     hexutil.Encode(calldata),
	}

	typed := apitypes.TypedData{
		Types:       fwdTypes,
		PrimaryType: "ForwardRequest",
		Domain:      *domain,
		Message: apitypes.TypedDataMessage{
			"from":     req.From,
			"to":       req.To,
			"value":    req.Value,
			"gas":      req.Gas,
			"nonce":    req.Nonce,
			"deadline": req.Deadline,
			"data":     req.Data,
		},
	}
	sig, err := x402.SignTypedData(typed, r.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("escrow: sign forward request: %w", err)
	}
	payload := relayPayload{Request: req, Signature: hexutil.Encode(sig)}

	resp, body, err := r.postRelay(ctx, payload, "")
	if err != nil {
		return common.Hash{}, err
	}
	if resp == http.StatusPaymentRequired {
		header, err := r.payRelayFee(body)
		if err != nil {
			return common.Hash{}, err
		}
		r.logger.WithField("relay", r.baseURL).Debug("Relay fee authorized, resubmitting")
		resp, body, err = r.postRelay(ctx, payload, header)
		if err != nil {
			return common.Hash{}, err
		}
	}
	if resp < 200 || resp >= 300 {
		return common.Hash{}, fmt.Errorf("%w: status %d: %s", ErrRelayRejected, resp, truncate(body, 200))
	}

	var result struct {
		TxHash string `json:"txHash"`
	}
	if err := json.Unmarshal(body, &result); err != nil || result.TxHash == "" {
		return common.Hash{}, fmt.Errorf("%w: malformed relay response", ErrRelayRejected)
	}
	return common.HexToHash(result.TxHash), nil
}

// payRelayFee turns the relay's 402 body into an X-Payment header carrying a
// signed transfer authorization for the quoted fee.
func (r *RelayClient) payRelayFee(body []byte) (string, error) {
	var challenge relayChallengeBody
	if err := json.Unmarshal(body, &challenge); err != nil || len(challenge.X402.Accepts) == 0 {
		return "", fmt.Errorf("%w: unreadable fee quote", ErrRelayRejected)
	}
	quote := challenge.X402.Accepts[0]

	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	now := time.Now().Unix()
	auth := x402.TransferAuthorization{
		From:        r.from.Hex(),
		To:          quote.PayTo,
		Value:       quote.MaxAmountRequired,
		ValidAfter:  strconv.FormatInt(now-60, 10),
		ValidBefore: strconv.FormatInt(now+3600, 10),
		Nonce:       hexutil.Encode(nonce[:]),
	}

	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": {
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              tokenDomainName(quote.Asset),
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(r.chainID),
			VerifyingContract: quote.Asset,
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From,
			"to":          auth.To,
			"value":       auth.Value,
			"validAfter":  auth.ValidAfter,
			"validBefore": auth.ValidBefore,
			"nonce":       auth.Nonce,
		},
	}
	sig, err := x402.SignTypedData(typed, r.key)
	if err != nil {
		return "", fmt.Errorf("escrow: sign relay fee authorization: %w", err)
	}

	return x402.EncodePayment(&x402.PaymentProof{
		Version: 1,
		Scheme:  x402.SchemeExact,
		Network: quote.Network,
		Payload: &x402.ExactEvmPayload{
			Signature:     hexutil.Encode(sig),
			Authorization: auth,
		},
	})
}

func (r *RelayClient) postRelay(ctx context.Context, payload relayPayload, paymentHeader string) (int, []byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/meta/relay", bytes.NewReader(b))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if paymentHeader != "" {
		req.Header.Set("X-Payment", paymentHeader)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrRelayRejected, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrRelayRejected, err)
	}
	return resp.StatusCode, body, nil
}

func (r *RelayClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRelayRejected, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: GET %s returned %d", ErrRelayRejected, path, resp.StatusCode)
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	return dec.Decode(out)
}

// tokenDomainName maps a fee asset to its EIP-712 domain name. Stargate
// bridged USDC on Cronos names its domain differently from the plain test
// token.
func tokenDomainName(asset string) string {
	if strings.EqualFold(asset, "0xc01efAaF7C5C61bEbFAeb358E1161b537b8bC0e0") {
		return "Bridged USDC (Stargate)"
	}
	return "Test USDC"
}

func coerceChainID(v any) (*math.HexOrDecimal256, error) {
	switch id := v.(type) {
	case json.Number:
		n, err := strconv.ParseInt(id.String(), 10, 64)
		if err != nil {
			return nil, err
		}
		return math.NewHexOrDecimal256(n), nil
	case string:
		n := new(math.HexOrDecimal256)
		if err := n.UnmarshalText([]byte(id)); err != nil {
			return nil, err
		}
		return n, nil
	case float64:
		return math.NewHexOrDecimal256(int64(id)), nil
	default:
		return nil, fmt.Errorf("unsupported chainId %T", v)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
