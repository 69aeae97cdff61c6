package escrow

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

// vaultABI covers the agent vault surface this client touches: claiming
// task budget into earnings, withdrawing earnings, and the two view reads.
const vaultABI = `[
  {"inputs":[{"internalType":"bytes32","name":"taskId","type":"bytes32"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"spend","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"withdraw","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"accumulatedEarnings","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"bytes32","name":"","type":"bytes32"}],"name":"tasks","outputs":[{"internalType":"uint256","name":"budget","type":"uint256"},{"internalType":"uint256","name":"remaining","type":"uint256"},{"internalType":"address","name":"creator","type":"address"},{"internalType":"bool","name":"exists","type":"bool"},{"internalType":"bool","name":"closed","type":"bool"}],"stateMutability":"view","type":"function"}
]`

const spendGasLimit = 200000

// Backend is the slice of an ethclient.Client the vault client needs.
type Backend interface {
	bind.ContractCaller
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TaskInfo mirrors the vault's per-task record.
type TaskInfo struct {
	Budget    *big.Int
	Remaining *big.Int
	Creator   common.Address
	Exists    bool
	Closed    bool
}

// Client submits budget debits against a pre-funded task on the agent's
// vault contract. Spend prefers the gasless relay when one is configured and
// falls back to a directly signed transaction. A returned hash means
// submitted, not confirmed; use WaitMined for confirmation.
type Client struct {
	backend  Backend
	relay    *RelayClient
	key      *ecdsa.PrivateKey
	from     common.Address
	vault    common.Address
	chainID  *big.Int
	abi      abi.ABI
	contract *bind.BoundContract
	logger   *logrus.Logger

	// Direct transactions query the account nonce fresh from the chain.
	// Concurrent spends from one key would race on it, so acquisition and
	// submission are serialized per client. Known limitation: two clients
	// sharing a key still collide.
	nonceMu sync.Mutex
}

func NewClient(backend Backend, relay *RelayClient, key *ecdsa.PrivateKey, vault common.Address, chainID *big.Int, logger *logrus.Logger) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(vaultABI))
	if err != nil {
		return nil, err
	}
	return &Client{
		backend:  backend,
		relay:    relay,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		vault:    vault,
		chainID:  chainID,
		abi:      parsed,
		contract: bind.NewBoundContract(vault, parsed, backend, nil, nil),
		logger:   logger,
	}, nil
}

// From returns the signing address.
func (c *Client) From() common.Address { return c.from }

// Vault returns the vault contract address.
func (c *Client) Vault() common.Address { return c.vault }

// Spend claims amount from the task's remaining budget into the vault's
// accumulated earnings.
func (c *Client) Spend(ctx context.Context, taskID [32]byte, amount *big.Int) (common.Hash, error) {
	calldata, err := c.abi.Pack("spend", taskID, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: pack calldata: %v", ErrSpendFailed, err)
	}

	if c.relay != nil {
		hash, err := c.relay.Execute(ctx, c.vault, calldata, spendGasLimit)
		if err == nil {
			c.logger.WithFields(logrus.Fields{
				"tx_hash": hash.Hex(),
				"amount":  amount.String(),
			}).Info("Escrow spend relayed")
			return hash, nil
		}
		c.logger.WithError(err).Warn("Relay spend failed, falling back to direct transaction")
	}

	hash, err := c.sendDirect(ctx, calldata)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrSpendFailed, err)
	}
	c.logger.WithFields(logrus.Fields{
		"tx_hash": hash.Hex(),
		"amount":  amount.String(),
	}).Info("Escrow spend submitted directly")
	return hash, nil
}

// Withdraw moves all accumulated earnings to the vault owner. Direct
// transaction only; the relay handshake is not worth a fee here.
func (c *Client) Withdraw(ctx context.Context) (common.Hash, error) {
	calldata, err := c.abi.Pack("withdraw")
	if err != nil {
		return common.Hash{}, err
	}
	return c.sendDirect(ctx, calldata)
}

func (c *Client) sendDirect(ctx context.Context, calldata []byte) (common.Hash, error) {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("query nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("query gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.vault,
		Value:    new(big.Int),
		Gas:      spendGasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}
	return signed.Hash(), nil
}

// Task reads the vault's record for taskID.
func (c *Client) Task(ctx context.Context, taskID [32]byte) (TaskInfo, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "tasks", taskID); err != nil {
		return TaskInfo{}, err
	}
	return TaskInfo{
		Budget:    *abi.ConvertType(out[0], new(*big.Int)).(**big.Int),
		Remaining: *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		Creator:   *abi.ConvertType(out[2], new(common.Address)).(*common.Address),
		Exists:    *abi.ConvertType(out[3], new(bool)).(*bool),
		Closed:    *abi.ConvertType(out[4], new(bool)).(*bool),
	}, nil
}

// Balance reads the vault's accumulated earnings.
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	var balance *big.Int
	out := []interface{}{&balance}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "accumulatedEarnings"); err != nil {
		return nil, err
	}
	return balance, nil
}

// WaitMined polls until the transaction is included or ctx expires. A
// reverted transaction returns ErrTxReverted along with the receipt.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, ErrTxReverted
			}
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ParseTaskID accepts a 0x-prefixed or bare 64-hex-char task identifier.
func ParseTaskID(s string) ([32]byte, error) {
	var id [32]byte
	b, err := hexutil.Decode("0x" + strings.TrimPrefix(s, "0x"))
	if err != nil {
		return id, fmt.Errorf("escrow: task id: %w", err)
	}
	if len(b) != 32 {
		return id, fmt.Errorf("escrow: task id must be 32 bytes, got %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}
