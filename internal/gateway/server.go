package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/orca-network/orca-go-sdk/internal/a2a"
	"github.com/orca-network/orca-go-sdk/internal/api"
	"github.com/orca-network/orca-go-sdk/internal/audit"
	"github.com/orca-network/orca-go-sdk/internal/bus"
	"github.com/orca-network/orca-go-sdk/internal/config"
	"github.com/orca-network/orca-go-sdk/internal/escrow"
	"github.com/orca-network/orca-go-sdk/internal/handler"
	"github.com/orca-network/orca-go-sdk/internal/payment"
	"github.com/orca-network/orca-go-sdk/internal/registry"
	"github.com/orca-network/orca-go-sdk/internal/x402"
)

// PaymentRequiredHeader carries the base64 challenge token on 402 responses.
const PaymentRequiredHeader = "PAYMENT-REQUIRED"

// Server exposes the paid agent over HTTP: the x402-gated /agent endpoint,
// the A2A surface, escrow operations and the event stream.
type Server struct {
	cfg        *config.AppConfig
	verifier   *payment.Verifier
	handler    handler.Handler
	escrow     *escrow.Client
	identity   *registry.IdentityClient
	registry   *registry.Registry
	protocol   *a2a.Protocol
	audit      audit.Store
	eventBus   *bus.EventBus
	eventHub   *api.EventHub
	wallet     string
	httpServer *http.Server
	router     *gin.Engine
	logger     *logrus.Logger
}

// Deps bundles the collaborators the server routes to. Escrow may be nil
// when chain access is disabled.
type Deps struct {
	Config   *config.AppConfig
	Verifier *payment.Verifier
	Handler  handler.Handler
	Escrow   *escrow.Client
	Identity *registry.IdentityClient
	Registry *registry.Registry
	Protocol *a2a.Protocol
	Audit    audit.Store
	EventBus *bus.EventBus
	EventHub *api.EventHub
	Wallet   string
}

// NewServer creates the HTTP server and registers all routes
func NewServer(deps Deps, logger *logrus.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "X-PAYMENT", "X-TASK-ID", "X-TEST-BYPASS")
	corsConfig.ExposeHeaders = []string{PaymentRequiredHeader}
	router.Use(cors.New(corsConfig))

	server := &Server{
		cfg:      deps.Config,
		verifier: deps.Verifier,
		handler:  deps.Handler,
		escrow:   deps.Escrow,
		identity: deps.Identity,
		registry: deps.Registry,
		protocol: deps.Protocol,
		audit:    deps.Audit,
		eventBus: deps.EventBus,
		eventHub: deps.EventHub,
		wallet:   deps.Wallet,
		router:   router,
		logger:   logger,
	}

	server.registerRoutes()

	return server
}

// Router exposes the gin engine for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Infof("Starting HTTP server on %s:%d", s.cfg.HTTP.Host, s.cfg.HTTP.Port)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.HTTP.Host, s.cfg.HTTP.Port),
		Handler: s.router,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Shutdown stops the HTTP server
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Shutting down HTTP server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// registerRoutes registers the API routes
func (s *Server) registerRoutes() {
	s.router.GET("/", s.getHealth)
	s.router.GET("/status", s.getStatus)

	// Paid work
	s.router.POST("/agent", s.handleAgent)
	s.router.POST("/withdraw", s.handleWithdraw)

	// A2A surface
	s.router.POST("/a2a/send", s.handleA2ASend)
	s.router.POST("/a2a/receive", s.handleA2AReceive)
	s.router.POST("/a2a/register", s.handleA2ARegister)
	s.router.GET("/a2a/agents", s.listAgents)

	// WebSocket event stream
	s.router.GET("/events", func(c *gin.Context) {
		s.eventHub.HandleWebSocket(c.Writer, c.Request)
	})
}

// getHealth returns the agent health status
func (s *Server) getHealth(c *gin.Context) {
	escrowStatus := "disabled"
	if s.escrow != nil {
		escrowStatus = "active"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"agent":     s.cfg.Agent.Name,
		"timestamp": time.Now().Unix(),
		"services": gin.H{
			"escrow": escrowStatus,
			"a2a":    "active",
		},
	})
}

// getStatus returns agent identity and on-chain state
func (s *Server) getStatus(c *gin.Context) {
	status := gin.H{
		"agent_id":     s.cfg.Agent.ID,
		"name":         s.cfg.Agent.Name,
		"version":      s.cfg.Agent.Version,
		"capabilities": s.cfg.Agent.Capabilities,
		"wallet":       s.wallet,
		"network":      s.cfg.Payment.Network,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if s.escrow != nil {
		status["vault"] = s.escrow.Vault().Hex()

		if balance, err := s.escrow.Balance(ctx); err != nil {
			s.logger.WithError(err).Warn("Failed to read accumulated earnings")
		} else {
			status["accumulated_earnings"] = balance.String()
		}
	}

	if s.identity != nil && s.cfg.Agent.OnChainID != "" {
		if onChainID, ok := new(big.Int).SetString(s.cfg.Agent.OnChainID, 10); ok {
			if rep, err := s.identity.Reputation(ctx, onChainID); err != nil {
				s.logger.WithError(err).Warn("Failed to read reputation summary")
			} else {
				status["reputation"] = gin.H{
					"count":         rep.Count,
					"average_score": rep.AverageScore,
				}
			}
		}
	}

	c.JSON(http.StatusOK, status)
}

type agentRequest struct {
	Prompt string `json:"prompt"`
	Tool   string `json:"tool"`
	TaskID string `json:"taskId"`
}

// handleAgent runs the full x402 negotiation around one unit of paid work
func (s *Server) handleAgent(c *gin.Context) {
	var req agentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}

	ctx := c.Request.Context()

	requestID, err := s.audit.LogPending(ctx, req.Prompt)
	if err != nil {
		s.logger.WithError(err).Error("Failed to record pending request")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit log unavailable"})
		return
	}

	log := s.logger.WithField("request_id", requestID)

	bypass := s.cfg.HTTP.AllowTestBypass && c.GetHeader("X-TEST-BYPASS") == "true"
	if bypass {
		log.Warn("Payment bypassed via X-TEST-BYPASS")
	}

	// A zero effective price means the resource is free: no challenge, no
	// verification, no settlement.
	free := s.effectivePrice(req.Tool).Sign() == 0

	proofB64 := c.GetHeader("X-PAYMENT")
	if !bypass && !free {
		if proofB64 == "" {
			s.respondChallenge(c, req.Tool)
			return
		}

		if err := s.verifier.VerifyProof(ctx, proofB64); err != nil {
			s.failRequest(ctx, requestID, err)
			s.respondPaymentError(c, err)
			return
		}

		if proof, err := x402.DecodePayment(proofB64); err == nil {
			s.eventBus.PublishPaymentVerified(requestID, proof.Address)
		}
	}

	if req.Tool != "" && !bypass && !free {
		if err := s.verifier.CheckToolPayment(req.Tool, proofB64); err != nil {
			s.failRequest(ctx, requestID, err)
			s.respondPaymentError(c, err)
			return
		}
	}

	result, err := s.handler.Handle(ctx, req.Prompt)
	if err != nil {
		var paywall *x402.ToolPaywallError
		if errors.As(err, &paywall) {
			s.failRequest(ctx, requestID, err)
			s.respondPaymentError(c, err)
			return
		}
		log.WithError(err).Error("Handler failed")
		s.failRequest(ctx, requestID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "handler failed", "request_id": requestID})
		return
	}

	var settlement payment.SettlementReceipt
	if !bypass && !free {
		settlement = s.verifier.Settle(ctx, proofB64)
		if settlement != nil {
			s.eventBus.PublishPaymentSettled(requestID, settlement)
		}
	}

	s.spendEscrow(ctx, log, &req, c.GetHeader("X-TASK-ID"))

	if err := s.audit.MarkSucceeded(ctx, requestID, result, proofB64); err != nil {
		log.WithError(err).Warn("Failed to mark request succeeded")
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id": requestID,
		"result":     result,
		"settlement": settlement,
	})
}

// effectivePrice returns the amount this request is charged: the tool's
// configured price when a priced tool is named, the base price otherwise.
// Unparseable prices count as paid, never as free.
func (s *Server) effectivePrice(tool string) *big.Int {
	price := s.cfg.Payment.BasePrice
	if tool != "" {
		if toolPrice, ok := s.cfg.Payment.ToolPrices[tool]; ok {
			price = toolPrice
		}
	}
	n, ok := new(big.Int).SetString(price, 10)
	if !ok {
		return big.NewInt(-1)
	}
	return n
}

// respondChallenge answers a payment-less request with 402 and the
// challenge token
func (s *Server) respondChallenge(c *gin.Context, toolName string) {
	reqs, token, err := s.verifier.Challenge(toolName)
	if err != nil {
		s.logger.WithError(err).Error("Failed to build payment challenge")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build payment requirements"})
		return
	}

	s.eventBus.PublishPaymentChallenged(reqs[0].Resource, reqs[0].MaxAmountRequired)

	c.Header(PaymentRequiredHeader, token)
	c.Header("Access-Control-Expose-Headers", PaymentRequiredHeader)
	c.JSON(http.StatusPaymentRequired, gin.H{
		"message": "Payment required",
		"accepts": reqs,
	})
}

// respondPaymentError maps negotiation failures onto HTTP statuses
func (s *Server) respondPaymentError(c *gin.Context, err error) {
	var paywall *x402.ToolPaywallError
	switch {
	case errors.As(err, &paywall):
		s.respondChallenge(c, paywall.Tool)
	case errors.Is(err, payment.ErrSignatureMismatch):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, payment.ErrInvalidProof):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, payment.ErrPaymentRejected):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	case errors.Is(err, payment.ErrFacilitatorUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) failRequest(ctx context.Context, requestID string, cause error) {
	if err := s.audit.MarkFailed(ctx, requestID, cause.Error()); err != nil {
		s.logger.WithError(err).Warn("Failed to mark request failed")
	}
}

// spendEscrow debits the task budget after the work is done. Failures are
// logged, never surfaced: the caller already paid and got the result.
func (s *Server) spendEscrow(ctx context.Context, log *logrus.Entry, req *agentRequest, headerTaskID string) {
	if s.escrow == nil {
		return
	}

	rawTaskID := req.TaskID
	if rawTaskID == "" {
		rawTaskID = headerTaskID
	}
	if rawTaskID == "" {
		return
	}

	amount := s.effectivePrice(req.Tool)
	if amount.Sign() <= 0 {
		return
	}

	taskID, err := escrow.ParseTaskID(rawTaskID)
	if err != nil {
		log.WithError(err).WithField("task_id", rawTaskID).Warn("Invalid task id, skipping escrow spend")
		return
	}

	spendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	txHash, err := s.escrow.Spend(spendCtx, taskID, amount)
	if err != nil {
		log.WithError(err).WithField("task_id", rawTaskID).Warn("Escrow spend failed")
		return
	}

	log.WithFields(logrus.Fields{
		"task_id": rawTaskID,
		"tx_hash": txHash.Hex(),
		"amount":  amount.String(),
	}).Info("Escrow spend submitted")
	s.eventBus.PublishEscrowSpend(rawTaskID, txHash.Hex(), amount.String())
}

// handleWithdraw moves accumulated earnings to the agent wallet
func (s *Server) handleWithdraw(c *gin.Context) {
	if s.escrow == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "escrow not configured"})
		return
	}

	txHash, err := s.escrow.Withdraw(c.Request.Context())
	if err != nil {
		s.logger.WithError(err).Error("Withdraw failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.eventBus.PublishAsync(bus.EventEscrowWithdraw, map[string]interface{}{
		"txHash": txHash.Hex(),
	})
	c.JSON(http.StatusOK, gin.H{"status": "submitted", "tx_hash": txHash.Hex()})
}

type a2aSendRequest struct {
	To        string                 `json:"to"`
	Action    string                 `json:"action"`
	Payload   map[string]interface{} `json:"payload"`
	TaskID    string                 `json:"task_id"`
	MaxBudget string                 `json:"max_budget"`
}

// handleA2ASend delivers a message to a peer agent
func (s *Server) handleA2ASend(c *gin.Context) {
	var req a2aSendRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.To == "" || req.Action == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to and action are required"})
		return
	}

	var opts []a2a.MessageOption
	if req.TaskID != "" {
		opts = append(opts, a2a.WithTaskID(req.TaskID))
	}
	if req.MaxBudget != "" {
		opts = append(opts, a2a.WithMaxBudget(req.MaxBudget))
	}

	result, err := s.protocol.Send(c.Request.Context(), req.To, req.Action, req.Payload, opts...)
	switch {
	case errors.Is(err, a2a.ErrPeerUnknown):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, a2a.ErrPeerUnreachable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, result)
	}
}

// handleA2AReceive accepts an inbound peer message
func (s *Server) handleA2AReceive(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	envelope, err := s.protocol.Receive(raw)
	if err != nil {
		var schemaErr *a2a.SchemaError
		if errors.As(err, &schemaErr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":      "invalid message",
				"violations": schemaErr.Violations,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, envelope)
}

// handleA2ARegister adds a peer to the local registry
func (s *Server) handleA2ARegister(c *gin.Context) {
	var info registry.AgentInfo
	if err := c.ShouldBindJSON(&info); err != nil || info.AgentID == "" || info.Endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent_id and endpoint are required"})
		return
	}

	s.registry.Register(info)
	s.eventBus.PublishAsync(bus.EventAgentRegistered, map[string]interface{}{
		"agentId":  info.AgentID,
		"endpoint": info.Endpoint,
	})

	c.JSON(http.StatusOK, gin.H{"status": "registered", "agent_id": info.AgentID})
}

// listAgents returns the known peers
func (s *Server) listAgents(c *gin.Context) {
	agents := s.registry.List()
	c.JSON(http.StatusOK, gin.H{"agents": agents, "count": len(agents)})
}
