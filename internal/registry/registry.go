package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrAgentNotFound means the agent is neither cached nor resolvable
// on-chain.
var ErrAgentNotFound = errors.New("registry: agent not found")

// AgentInfo describes one known peer.
type AgentInfo struct {
	AgentID      string   `json:"agent_id"`
	Endpoint     string   `json:"endpoint"`
	Capabilities []string `json:"capabilities"`
	Name         string   `json:"name"`
}

// Registry caches peer agents by id. Writes come from explicit registration
// or from an on-chain refresh; readers tolerate staleness. Lookups never
// touch the chain, Resolve may.
type Registry struct {
	mu       sync.RWMutex
	agents   map[string]AgentInfo
	identity *IdentityClient // nil when running without chain access
	logger   *logrus.Logger
}

func New(identity *IdentityClient, logger *logrus.Logger) *Registry {
	return &Registry{
		agents:   make(map[string]AgentInfo),
		identity: identity,
		logger:   logger,
	}
}

// Register adds or overwrites a peer record.
func (r *Registry) Register(info AgentInfo) {
	r.mu.Lock()
	r.agents[info.AgentID] = info
	r.mu.Unlock()
	r.logger.WithFields(logrus.Fields{
		"agent_id": info.AgentID,
		"endpoint": info.Endpoint,
	}).Info("Agent registered")
}

// Lookup returns the cached record. No side effects.
func (r *Registry) Lookup(agentID string) (AgentInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.agents[agentID]
	return info, ok
}

// List snapshots the cache.
func (r *Registry) List() map[string]AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]AgentInfo, len(r.agents))
	for id, info := range r.agents {
		out[id] = info
	}
	return out
}

// Refresh reads the agent's endpoint from the identity registry and caches
// the synthesized record. The id must be a numeric on-chain agent id.
func (r *Registry) Refresh(ctx context.Context, agentID string) (AgentInfo, error) {
	if r.identity == nil {
		return AgentInfo{}, ErrAgentNotFound
	}
	numeric, ok := new(big.Int).SetString(agentID, 10)
	if !ok {
		return AgentInfo{}, fmt.Errorf("%w: %q is not an on-chain agent id", ErrAgentNotFound, agentID)
	}
	endpoint, err := r.identity.Endpoint(ctx, numeric)
	if err != nil {
		return AgentInfo{}, fmt.Errorf("%w: chain lookup for %s: %v", ErrAgentNotFound, agentID, err)
	}
	if endpoint == "" {
		return AgentInfo{}, fmt.Errorf("%w: agent %s has no endpoint metadata", ErrAgentNotFound, agentID)
	}
	info := AgentInfo{
		AgentID:      agentID,
		Endpoint:     endpoint,
		Capabilities: []string{},
		Name:         "agent-" + agentID,
	}
	r.mu.Lock()
	r.agents[agentID] = info
	r.mu.Unlock()
	r.logger.WithFields(logrus.Fields{
		"agent_id": agentID,
		"endpoint": endpoint,
	}).Info("Agent resolved on-chain")
	return info, nil
}

// Resolve returns the cached record, falling back to an on-chain refresh
// for numeric ids.
func (r *Registry) Resolve(ctx context.Context, agentID string) (AgentInfo, error) {
	if info, ok := r.Lookup(agentID); ok {
		return info, nil
	}
	return r.Refresh(ctx, agentID)
}
