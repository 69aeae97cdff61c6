package registry

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Minimal slices of the ERC-8004 identity and reputation registries. Agent
// metadata is stored as raw bytes under string keys; the endpoint lives
// under "endpoint".
const identityABI = `[
  {"inputs":[{"internalType":"uint256","name":"agentId","type":"uint256"},{"internalType":"string","name":"key","type":"string"}],"name":"getMetadata","outputs":[{"internalType":"bytes","name":"","type":"bytes"}],"stateMutability":"view","type":"function"}
]`

const reputationABI = `[
  {"inputs":[{"internalType":"uint256","name":"agentId","type":"uint256"},{"internalType":"address[]","name":"clients","type":"address[]"},{"internalType":"bytes32","name":"tag1","type":"bytes32"},{"internalType":"bytes32","name":"tag2","type":"bytes32"}],"name":"getSummary","outputs":[{"internalType":"uint64","name":"count","type":"uint64"},{"internalType":"uint8","name":"averageScore","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

// ReputationSummary is the aggregate feedback stored for one agent.
type ReputationSummary struct {
	Count        uint64
	AverageScore uint8
}

// IdentityClient reads agent records from the on-chain registries.
type IdentityClient struct {
	identity   *bind.BoundContract
	reputation *bind.BoundContract
}

func NewIdentityClient(identityAddr, reputationAddr common.Address, caller bind.ContractCaller) (*IdentityClient, error) {
	idABI, err := abi.JSON(strings.NewReader(identityABI))
	if err != nil {
		return nil, err
	}
	repABI, err := abi.JSON(strings.NewReader(reputationABI))
	if err != nil {
		return nil, err
	}
	return &IdentityClient{
		identity:   bind.NewBoundContract(identityAddr, idABI, caller, nil, nil),
		reputation: bind.NewBoundContract(reputationAddr, repABI, caller, nil, nil),
	}, nil
}

// Endpoint reads the agent's advertised HTTP endpoint. An agent with no
// metadata yields an empty string, not an error.
func (c *IdentityClient) Endpoint(ctx context.Context, agentID *big.Int) (string, error) {
	var raw []byte
	out := []interface{}{&raw}
	if err := c.identity.Call(&bind.CallOpts{Context: ctx}, &out, "getMetadata", agentID, "endpoint"); err != nil {
		return "", err
	}
	return string(raw), nil
}

// Reputation reads the agent's feedback summary across all clients and tags.
func (c *IdentityClient) Reputation(ctx context.Context, agentID *big.Int) (ReputationSummary, error) {
	var out []interface{}
	err := c.reputation.Call(&bind.CallOpts{Context: ctx}, &out, "getSummary", agentID, []common.Address{}, [32]byte{}, [32]byte{})
	if err != nil {
		return ReputationSummary{}, err
	}
	return ReputationSummary{
		Count:        *abi.ConvertType(out[0], new(uint64)).(*uint64),
		AverageScore: *abi.ConvertType(out[1], new(uint8)).(*uint8),
	}, nil
}
