package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/orca-network/orca-go-sdk/pkg/utils"
)

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(path string, logger *logrus.Logger) (*AppConfig, error) {
	// Start with default configuration
	config := DefaultConfig()

	// Check if the config file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warnf("Configuration file %s not found, using defaults", path)
		// Still apply environment overrides even with defaults
		applyEnvironmentOverrides(config)
		return config, nil
	}

	// Read the configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the configuration
	configString := utils.ExpandEnvVars(string(data))

	// Parse YAML
	if err := yaml.Unmarshal([]byte(configString), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override with environment variables before validation so that
	// values injected by the deployment environment are checked too
	applyEnvironmentOverrides(config)

	// Validate the configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(config *AppConfig, path string) error {
	// Create the directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Marshal to YAML
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// validateConfig checks if the configuration is valid
func validateConfig(config *AppConfig) error {
	// Basic validation
	if config.Agent.Name == "" {
		return fmt.Errorf("agent name cannot be empty")
	}
	if config.Agent.ID == "" {
		return fmt.Errorf("agent id cannot be empty")
	}

	// Payment validation
	if _, err := config.Payment.ChainID(); err != nil {
		return fmt.Errorf("payment network: %w", err)
	}
	if err := validateAmount("payment.base_price", config.Payment.BasePrice); err != nil {
		return err
	}
	for tool, price := range config.Payment.ToolPrices {
		if err := validateAmount(fmt.Sprintf("payment.tool_prices[%s]", tool), price); err != nil {
			return err
		}
	}

	// Chain validation
	if config.Chain.Enabled && config.Chain.RPCURL == "" {
		return fmt.Errorf("chain RPC URL cannot be empty when chain access is enabled")
	}

	// Relay validation
	if config.Relay.Enabled {
		if !config.Chain.Enabled {
			return fmt.Errorf("relay requires chain access to be enabled")
		}
		if config.Relay.URL == "" {
			return fmt.Errorf("relay URL cannot be empty when the relay is enabled")
		}
	}

	// Handler validation
	if config.Handler.Backend == "openai" && config.Handler.APIKey == "" {
		return fmt.Errorf("OpenAI API key cannot be empty when using the openai handler")
	}

	// Audit validation
	switch config.Audit.Backend {
	case "", "memory":
	case "postgres":
		if config.Audit.PostgresURL == "" {
			return fmt.Errorf("postgres URL cannot be empty when using the postgres audit backend")
		}
	default:
		return fmt.Errorf("audit backend must be 'memory' or 'postgres', got '%s'", config.Audit.Backend)
	}

	// A2A validation
	for i, peer := range config.A2A.Peers {
		if peer.AgentID == "" {
			return fmt.Errorf("a2a.peers[%d]: agent_id cannot be empty", i)
		}
		if peer.Endpoint == "" {
			return fmt.Errorf("a2a.peers[%d]: endpoint cannot be empty for agent '%s'", i, peer.AgentID)
		}
	}

	return nil
}

// validateAmount checks that a price is a base-10 unsigned integer in atomic units
func validateAmount(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	n, ok := new(big.Int).SetString(value, 10)
	if !ok || n.Sign() < 0 {
		return fmt.Errorf("%s must be a non-negative integer amount, got '%s'", field, value)
	}
	return nil
}

// applyEnvironmentOverrides applies environment variable overrides to the configuration
func applyEnvironmentOverrides(config *AppConfig) {
	// Agent overrides
	if name := os.Getenv("AGENT_NAME"); name != "" {
		config.Agent.Name = name
	}
	if id := os.Getenv("AGENT_ID"); id != "" {
		config.Agent.ID = id
	}
	if wallet := os.Getenv("WALLET_FILE"); wallet != "" {
		config.Agent.WalletFile = wallet
	}

	// HTTP overrides
	if portStr := os.Getenv("HTTP_PORT"); portStr != "" {
		if _, err := fmt.Sscanf(portStr, "%d", &config.HTTP.Port); err != nil {
			logrus.Warnf("Invalid HTTP_PORT: %s", portStr)
		}
	}
	config.HTTP.AllowTestBypass = utils.BoolFromEnv("ALLOW_TEST_BYPASS", config.HTTP.AllowTestBypass)

	// Payment overrides
	if url := os.Getenv("FACILITATOR_URL"); url != "" {
		config.Payment.FacilitatorURL = url
	}
	if network := os.Getenv("PAYMENT_NETWORK"); network != "" {
		config.Payment.Network = network
	}
	if addr := os.Getenv("WALLET_ADDRESS"); addr != "" {
		config.Payment.WalletAddress = addr
	}
	if price := utils.GetEnv("BASE_PRICE", os.Getenv("AGENT_PRICE")); price != "" {
		config.Payment.BasePrice = price
	}

	// Chain overrides
	config.Chain.Enabled = utils.BoolFromEnv("CHAIN_ENABLED", config.Chain.Enabled)
	if url := os.Getenv("RPC_URL"); url != "" {
		config.Chain.RPCURL = url
	}
	if addr := utils.GetEnv("VAULT_ADDRESS", os.Getenv("TASK_VAULT")); addr != "" {
		config.Chain.VaultAddress = addr
	}

	// Relay overrides
	config.Relay.Enabled = utils.BoolFromEnv("RELAY_ENABLED", config.Relay.Enabled)
	if url := utils.GetEnv("RELAY_URL", os.Getenv("CROGAS_URL")); url != "" {
		config.Relay.URL = url
	}

	// A2A overrides
	config.A2A.Permissive = utils.BoolFromEnv("A2A_PERMISSIVE", config.A2A.Permissive)

	// Audit overrides
	if backend := os.Getenv("AUDIT_BACKEND"); backend != "" {
		config.Audit.Backend = backend
	}
	if url := utils.GetEnv("AUDIT_POSTGRES_URL", os.Getenv("DATABASE_URL")); url != "" {
		config.Audit.PostgresURL = url
	}

	// Handler overrides
	if backend := os.Getenv("HANDLER_BACKEND"); backend != "" {
		config.Handler.Backend = backend
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.Handler.APIKey = apiKey
	}
	if model := os.Getenv("HANDLER_MODEL"); model != "" {
		config.Handler.Model = model
	}

	// Logging overrides
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}
