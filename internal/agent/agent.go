package agent

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/orca-network/orca-go-sdk/internal/a2a"
	"github.com/orca-network/orca-go-sdk/internal/api"
	"github.com/orca-network/orca-go-sdk/internal/audit"
	"github.com/orca-network/orca-go-sdk/internal/bus"
	"github.com/orca-network/orca-go-sdk/internal/config"
	"github.com/orca-network/orca-go-sdk/internal/escrow"
	"github.com/orca-network/orca-go-sdk/internal/gateway"
	"github.com/orca-network/orca-go-sdk/internal/handler"
	"github.com/orca-network/orca-go-sdk/internal/logger"
	"github.com/orca-network/orca-go-sdk/internal/payment"
	"github.com/orca-network/orca-go-sdk/internal/registry"
	"github.com/orca-network/orca-go-sdk/internal/wallet"
	"github.com/orca-network/orca-go-sdk/internal/x402"
)

// Agent assembles the full stack: wallet identity, payment verifier, escrow
// client, peer registry, A2A protocol, audit log and the HTTP gateway.
type Agent struct {
	cfg      *config.AppConfig
	server   *gateway.Server
	eventBus *bus.EventBus
	audit    audit.Store
	eth      *ethclient.Client
	logger   *logrus.Logger
}

// New wires the agent from its configuration
func New(ctx context.Context, cfg *config.AppConfig, log *logrus.Logger) (*Agent, error) {
	identity, source, err := wallet.Load(cfg.Agent.WalletFile)
	if err != nil {
		return nil, fmt.Errorf("agent: load wallet: %w", err)
	}
	log.WithFields(logrus.Fields{
		"address": identity.Address,
		"source":  source,
	}).Info("Wallet identity ready")

	eventBus := bus.NewEventBus(log)
	log.AddHook(logger.NewEventBusLogHook(eventBus, cfg.Agent.Name))
	eventHub := api.NewEventHub(eventBus, log)

	chainID, err := cfg.Payment.ChainID()
	if err != nil {
		return nil, err
	}

	builder := &x402.RequirementBuilder{
		Network:       cfg.Payment.Network,
		Token:         cfg.Payment.TokenAddress,
		Wallet:        cfg.Payment.WalletAddress,
		EscrowAddress: cfg.Chain.VaultAddress,
		BasePrice:     cfg.Payment.BasePrice,
		ToolPrices:    cfg.Payment.ToolPrices,
	}
	facilitator := payment.NewFacilitatorClient(
		cfg.Payment.FacilitatorURL,
		time.Duration(cfg.Payment.TimeoutSec)*time.Second,
		log,
	)
	verifier := payment.NewVerifier(builder, facilitator, log)

	var (
		eth            *ethclient.Client
		escrowClient   *escrow.Client
		identityClient *registry.IdentityClient
	)
	if cfg.Chain.Enabled {
		eth, err = ethclient.Dial(cfg.Chain.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("agent: dial chain RPC: %w", err)
		}

		var relay *escrow.RelayClient
		if cfg.Relay.Enabled {
			relay = escrow.NewRelayClient(
				cfg.Relay.URL,
				identity.Key,
				chainID,
				time.Duration(cfg.Relay.TimeoutSec)*time.Second,
				log,
			)
		}

		escrowClient, err = escrow.NewClient(
			eth,
			relay,
			identity.Key,
			common.HexToAddress(cfg.Chain.VaultAddress),
			big.NewInt(chainID),
			log,
		)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("agent: escrow client: %w", err)
		}

		if cfg.Chain.IdentityRegistry != "" {
			identityClient, err = registry.NewIdentityClient(
				common.HexToAddress(cfg.Chain.IdentityRegistry),
				common.HexToAddress(cfg.Chain.ReputationRegistry),
				eth,
			)
			if err != nil {
				eth.Close()
				return nil, fmt.Errorf("agent: identity registry: %w", err)
			}
		}
	}

	reg := registry.New(identityClient, log)
	for _, peer := range cfg.A2A.Peers {
		reg.Register(registry.AgentInfo{
			AgentID:      peer.AgentID,
			Endpoint:     peer.Endpoint,
			Name:         peer.Name,
			Capabilities: peer.Capabilities,
		})
	}

	dispatcher := a2a.NewDispatcher(cfg.Agent.ID, cfg.Agent.Capabilities, cfg.Agent.Version, log)
	protocol := a2a.NewProtocol(
		cfg.Agent.ID,
		reg,
		dispatcher,
		eventBus,
		time.Duration(cfg.A2A.TimeoutSec)*time.Second,
		cfg.A2A.Permissive,
		log,
	)

	var store audit.Store
	switch cfg.Audit.Backend {
	case "postgres":
		store, err = audit.NewPostgres(ctx, cfg.Audit.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("agent: audit store: %w", err)
		}
	default:
		store = audit.NewMemoryStore()
	}

	h, err := handler.New(cfg.Handler.Backend, cfg.Handler.APIKey, cfg.Handler.Model)
	if err != nil {
		return nil, fmt.Errorf("agent: handler: %w", err)
	}

	server := gateway.NewServer(gateway.Deps{
		Config:   cfg,
		Verifier: verifier,
		Handler:  h,
		Escrow:   escrowClient,
		Identity: identityClient,
		Registry: reg,
		Protocol: protocol,
		Audit:    store,
		EventBus: eventBus,
		EventHub: eventHub,
		Wallet:   identity.Address,
	}, log)

	return &Agent{
		cfg:      cfg,
		server:   server,
		eventBus: eventBus,
		audit:    store,
		eth:      eth,
		logger:   log,
	}, nil
}

// Start brings up the HTTP gateway
func (a *Agent) Start() error {
	a.logger.WithFields(logrus.Fields{
		"agent":   a.cfg.Agent.Name,
		"network": a.cfg.Payment.Network,
	}).Info("Starting agent")
	return a.server.Start()
}

// Stop shuts the agent down in reverse dependency order
func (a *Agent) Stop() error {
	err := a.server.Shutdown()

	a.audit.Close()
	if a.eth != nil {
		a.eth.Close()
	}
	a.eventBus.Stop()

	a.logger.Info("Agent shutdown complete")
	return err
}
