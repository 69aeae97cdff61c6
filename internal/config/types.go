package config

import (
	"fmt"
	"strconv"
	"strings"
)

// AppConfig is the main configuration structure for the agent.
type AppConfig struct {
	Agent   AgentConfig   `yaml:"agent" json:"agent"`
	HTTP    HTTPConfig    `yaml:"http" json:"http"`
	Payment PaymentConfig `yaml:"payment" json:"payment"`
	Chain   ChainConfig   `yaml:"chain" json:"chain"`
	Relay   RelayConfig   `yaml:"relay" json:"relay"`
	A2A     A2AConfig     `yaml:"a2a" json:"a2a"`
	Audit   AuditConfig   `yaml:"audit" json:"audit"`
	Handler HandlerConfig `yaml:"handler" json:"handler"`
	Logging LogConfig     `yaml:"logging" json:"logging"`
}

// AgentConfig contains basic agent information.
type AgentConfig struct {
	Name         string   `yaml:"name" json:"name"`
	ID           string   `yaml:"id" json:"id"`
	Version      string   `yaml:"version" json:"version"`
	Description  string   `yaml:"description" json:"description"`
	Capabilities []string `yaml:"capabilities" json:"capabilities"`
	WalletFile   string   `yaml:"wallet_file" json:"wallet_file"`
	// OnChainID is the agent's numeric ERC-8004 identity registry id.
	// Empty means not registered on-chain.
	OnChainID string `yaml:"on_chain_id" json:"on_chain_id"`
}

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
	// AllowTestBypass honors the X-TEST-BYPASS header. Never enable outside
	// local development.
	AllowTestBypass bool `yaml:"allow_test_bypass" json:"allow_test_bypass"`
}

// PaymentConfig drives the x402 negotiation.
type PaymentConfig struct {
	FacilitatorURL string            `yaml:"facilitator_url" json:"facilitator_url"`
	Network        string            `yaml:"network" json:"network"` // CAIP-2
	TokenAddress   string            `yaml:"token_address" json:"token_address"`
	WalletAddress  string            `yaml:"wallet_address" json:"wallet_address"` // empty = escrow-only
	BasePrice      string            `yaml:"base_price" json:"base_price"`         // token minor units
	ToolPrices     map[string]string `yaml:"tool_prices" json:"tool_prices"`
	TimeoutSec     int               `yaml:"timeout_sec" json:"timeout_sec"`
}

// ChainConfig points at the JSON-RPC endpoint and the contracts.
type ChainConfig struct {
	Enabled            bool   `yaml:"enabled" json:"enabled"`
	RPCURL             string `yaml:"rpc_url" json:"rpc_url"`
	VaultAddress       string `yaml:"vault_address" json:"vault_address"`
	IdentityRegistry   string `yaml:"identity_registry" json:"identity_registry"`
	ReputationRegistry string `yaml:"reputation_registry" json:"reputation_registry"`
}

// RelayConfig configures the gasless meta-transaction relay.
type RelayConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	URL        string `yaml:"url" json:"url"`
	TimeoutSec int    `yaml:"timeout_sec" json:"timeout_sec"`
}

// PeerConfig pre-seeds the agent registry.
type PeerConfig struct {
	AgentID      string   `yaml:"agent_id" json:"agent_id"`
	Endpoint     string   `yaml:"endpoint" json:"endpoint"`
	Name         string   `yaml:"name" json:"name"`
	Capabilities []string `yaml:"capabilities" json:"capabilities"`
}

// A2AConfig configures inter-agent messaging.
type A2AConfig struct {
	// Permissive accepts messages addressed to other agents (broadcast
	// relays). Default is strict destination matching.
	Permissive bool         `yaml:"permissive" json:"permissive"`
	TimeoutSec int          `yaml:"timeout_sec" json:"timeout_sec"`
	Peers      []PeerConfig `yaml:"peers" json:"peers"`
}

// AuditConfig selects the request-log backend.
type AuditConfig struct {
	Backend     string `yaml:"backend" json:"backend"` // memory | postgres
	PostgresURL string `yaml:"postgres_url" json:"postgres_url"`
}

// HandlerConfig selects the paid work function.
type HandlerConfig struct {
	Backend string `yaml:"backend" json:"backend"` // echo | openai
	APIKey  string `yaml:"api_key" json:"api_key"`
	Model   string `yaml:"model" json:"model"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // text | json
}

// Cronos testnet defaults, matching the deployed protocol suite.
const (
	DefaultNetwork            = "eip155:338"
	DefaultTokenAddress       = "0xc01efAaF7C5C61bEbFAeb358E1161b537b8bC0e0"
	DefaultVaultAddress       = "0x71be791E25abacA49FEaD19054FB044686c90c3b"
	DefaultIdentityRegistry   = "0x58e67dEEEcde20f10eD90B5191f08f39e81B6658"
	DefaultReputationRegistry = "0x87A0E38fF8e63AE90ea95bbd61Ce9c6EC75422d0"
	DefaultFacilitatorURL     = "https://facilitator.cronoslabs.org/v2/x402"
	DefaultRPCURL             = "https://evm-t3.cronos.org"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Agent: AgentConfig{
			Name:         "orca-agent",
			ID:           "orca-agent",
			Version:      "1.0.0",
			Description:  "x402-enabled autonomous agent",
			Capabilities: []string{"market_data", "payment_verification", "a2a_communication"},
			WalletFile:   "./configs/keys/wallet.json",
		},
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Payment: PaymentConfig{
			FacilitatorURL: DefaultFacilitatorURL,
			Network:        DefaultNetwork,
			TokenAddress:   DefaultTokenAddress,
			BasePrice:      "10000",
			ToolPrices:     map[string]string{},
			TimeoutSec:     15,
		},
		Chain: ChainConfig{
			Enabled:            true,
			RPCURL:             DefaultRPCURL,
			VaultAddress:       DefaultVaultAddress,
			IdentityRegistry:   DefaultIdentityRegistry,
			ReputationRegistry: DefaultReputationRegistry,
		},
		Relay: RelayConfig{
			TimeoutSec: 30,
		},
		A2A: A2AConfig{
			TimeoutSec: 10,
		},
		Audit: AuditConfig{
			Backend: "memory",
		},
		Handler: HandlerConfig{
			Backend: "echo",
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ChainID extracts the numeric chain id from the CAIP-2 network name.
func (c *PaymentConfig) ChainID() (int64, error) {
	parts := strings.Split(c.Network, ":")
	if len(parts) != 2 || parts[0] != "eip155" {
		return 0, fmt.Errorf("config: network %q is not an eip155 CAIP-2 identifier", c.Network)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: network %q: %w", c.Network, err)
	}
	return id, nil
}
