package x402

// RequirementBuilder produces payment requirements for the agent itself or
// for one of its priced tools.
type RequirementBuilder struct {
	Network       string // CAIP-2 chain identifier
	Token         string // asset contract address
	Wallet        string // direct payout address, may be empty
	EscrowAddress string // fallback beneficiary when no wallet is configured
	BasePrice     string // price for the /agent resource
	ToolPrices    map[string]string
}

// Beneficiary returns the payout address for new requirements. An empty
// Wallet signals escrow-only mode: payments are claimed from a task budget
// instead of being paid out directly.
func (b *RequirementBuilder) Beneficiary() string {
	if b.Wallet != "" {
		return b.Wallet
	}
	return b.EscrowAddress
}

// ToolPrice looks up the configured price for a tool. Tools with no entry
// are free.
func (b *RequirementBuilder) ToolPrice(tool string) (string, bool) {
	price, ok := b.ToolPrices[tool]
	return price, ok
}

// Build produces the requirements list for a request. An empty toolName
// targets the base /agent resource at the base price; otherwise the resource
// is /tool/{name} at the tool's configured price.
func (b *RequirementBuilder) Build(toolName string) []PaymentRequirement {
	resource := "/agent"
	price := b.BasePrice
	if toolName != "" {
		resource = "/tool/" + toolName
		if p, ok := b.ToolPrices[toolName]; ok {
			price = p
		}
	}
	return []PaymentRequirement{{
		Scheme:            SchemeExact,
		Network:           b.Network,
		Token:             b.Token,
		Resource:          resource,
		MaxAmountRequired: price,
		Beneficiary:       b.Beneficiary(),
	}}
}
