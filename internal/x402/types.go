package x402

// SchemeExact is the only payment scheme this SDK speaks. It follows the
// x402 convention: the server advertises requirements, the client retries
// the request with a signed proof attached.
const SchemeExact = "exact"

// PaymentRequirement describes what must be paid to access one resource.
// Field names follow the x402 wire format.
type PaymentRequirement struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"` // CAIP-2, e.g. "eip155:338"
	Token             string `json:"asset"`
	Resource          string `json:"resource"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Beneficiary       string `json:"payTo"`
}

// Challenge is the decoded form of a PAYMENT-REQUIRED token.
type Challenge struct {
	Accepts []PaymentRequirement `json:"accepts"`
}

// TransferAuthorization is an EIP-3009 transferWithAuthorization message.
// Numeric fields are decimal strings, Nonce is a 0x-prefixed bytes32.
type TransferAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactEvmPayload carries a signed transfer authorization for the exact
// scheme on EVM networks.
type ExactEvmPayload struct {
	Signature     string                `json:"signature"`
	Authorization TransferAuthorization `json:"authorization"`
	Asset         string                `json:"asset,omitempty"`
}

// PaymentProof is the decoded X-PAYMENT header. Two shapes share the struct:
//
//   - identity proof: Challenge/Signature/Address set, Payload nil. The
//     client proves control of an address by personal-signing the challenge
//     token it received.
//   - transfer authorization: Version/Scheme/Network/Payload set. Signature
//     validity is delegated to the facilitator.
type PaymentProof struct {
	Challenge string `json:"challenge,omitempty"`
	Signature string `json:"signature,omitempty"`
	Address   string `json:"address,omitempty"`

	Version int              `json:"version,omitempty"`
	Scheme  string           `json:"scheme,omitempty"`
	Network string           `json:"network,omitempty"`
	Payload *ExactEvmPayload `json:"payload,omitempty"`
}

// IsIdentity reports whether the proof uses the identity-only scheme.
func (p *PaymentProof) IsIdentity() bool {
	return p.Payload == nil
}

// ToolPaywallError signals that a priced tool was invoked without a valid
// tool-scoped payment. The gateway turns it into a tool-specific 402 rather
// than a generic payment failure.
type ToolPaywallError struct {
	Tool string
}

func (e *ToolPaywallError) Error() string {
	return "payment required for tool " + e.Tool
}
