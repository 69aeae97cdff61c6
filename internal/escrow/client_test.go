package escrow

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testChainID = big.NewInt(338)

type mockTask struct {
	budget    *big.Int
	remaining *big.Int
	creator   common.Address
	closed    bool
}

// mockBackend implements the vault contract's state machine well enough to
// observe budget conservation across spends.
type mockBackend struct {
	mu       sync.Mutex
	abi      abi.ABI
	tasks    map[[32]byte]*mockTask
	earnings *big.Int
	nonce    uint64
	receipts map[common.Hash]*types.Receipt
	sent     []*types.Transaction
}

func newMockBackend(t *testing.T) *mockBackend {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(vaultABI))
	require.NoError(t, err)
	return &mockBackend{
		abi:      parsed,
		tasks:    make(map[[32]byte]*mockTask),
		earnings: new(big.Int),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (b *mockBackend) fundTask(id [32]byte, budget int64, creator common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks[id] = &mockTask{
		budget:    big.NewInt(budget),
		remaining: big.NewInt(budget),
		creator:   creator,
	}
}

func (b *mockBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonce, nil
}

func (b *mockBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(5_000_000_000), nil
}

func (b *mockBackend) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x01}, nil
}

func (b *mockBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonce++
	b.sent = append(b.sent, tx)

	status := types.ReceiptStatusFailed
	if b.apply(tx.Data()) {
		status = types.ReceiptStatusSuccessful
	}
	b.receipts[tx.Hash()] = &types.Receipt{Status: status, TxHash: tx.Hash()}
	return nil
}

// apply executes the calldata against the mock state, reporting success.
func (b *mockBackend) apply(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	method, err := b.abi.MethodById(data[:4])
	if err != nil {
		return false
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return false
	}
	switch method.Name {
	case "spend":
		id := args[0].([32]byte)
		amount := args[1].(*big.Int)
		task, ok := b.tasks[id]
		if !ok || task.closed || task.remaining.Cmp(amount) < 0 {
			return false
		}
		task.remaining.Sub(task.remaining, amount)
		b.earnings.Add(b.earnings, amount)
		return true
	case "withdraw":
		b.earnings.SetInt64(0)
		return true
	}
	return false
}

func (b *mockBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (b *mockBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	method, err := b.abi.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "tasks":
		args, err := method.Inputs.Unpack(call.Data[4:])
		if err != nil {
			return nil, err
		}
		id := args[0].([32]byte)
		task, ok := b.tasks[id]
		if !ok {
			return method.Outputs.Pack(new(big.Int), new(big.Int), common.Address{}, false, false)
		}
		return method.Outputs.Pack(task.budget, task.remaining, task.creator, true, task.closed)
	case "accumulatedEarnings":
		return method.Outputs.Pack(b.earnings)
	}
	return nil, ethereum.NotFound
}

func testClient(t *testing.T, backend Backend, relay *RelayClient) *Client {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	c, err := NewClient(backend, relay, key, common.HexToAddress("0x71be791E25abacA49FEaD19054FB044686c90c3b"), testChainID, logger)
	require.NoError(t, err)
	return c
}

func taskID(b byte) [32]byte {
	var id [32]byte
	id[31] = b
	return id
}

func TestSpendConservesBudget(t *testing.T) {
	backend := newMockBackend(t)
	c := testClient(t, backend, nil)
	id := taskID(1)
	backend.fundTask(id, 100000, c.From())
	ctx := context.Background()

	hash, err := c.Spend(ctx, id, big.NewInt(60000))
	require.NoError(t, err)
	_, err = c.WaitMined(ctx, hash)
	require.NoError(t, err)

	task, err := c.Task(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), task.Budget.Int64())
	assert.Equal(t, int64(40000), task.Remaining.Int64())
	assert.True(t, task.Exists)

	// Second spend exceeds the remaining budget and must revert without
	// touching the task.
	hash, err = c.Spend(ctx, id, big.NewInt(60000))
	require.NoError(t, err)
	_, err = c.WaitMined(ctx, hash)
	assert.ErrorIs(t, err, ErrTxReverted)

	task, err = c.Task(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(40000), task.Remaining.Int64())

	balance, err := c.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(60000), balance.Int64())
}

func TestSpendUnknownTaskReverts(t *testing.T) {
	backend := newMockBackend(t)
	c := testClient(t, backend, nil)
	ctx := context.Background()

	hash, err := c.Spend(ctx, taskID(9), big.NewInt(1))
	require.NoError(t, err)
	_, err = c.WaitMined(ctx, hash)
	assert.ErrorIs(t, err, ErrTxReverted)
}

func TestWithdraw(t *testing.T) {
	backend := newMockBackend(t)
	c := testClient(t, backend, nil)
	id := taskID(2)
	backend.fundTask(id, 5000, c.From())
	ctx := context.Background()

	hash, err := c.Spend(ctx, id, big.NewInt(5000))
	require.NoError(t, err)
	_, err = c.WaitMined(ctx, hash)
	require.NoError(t, err)

	hash, err = c.Withdraw(ctx)
	require.NoError(t, err)
	_, err = c.WaitMined(ctx, hash)
	require.NoError(t, err)

	balance, err := c.Balance(ctx)
	require.NoError(t, err)
	assert.Zero(t, balance.Int64())
}

func TestDirectSpendUsesFreshNonce(t *testing.T) {
	backend := newMockBackend(t)
	c := testClient(t, backend, nil)
	id := taskID(3)
	backend.fundTask(id, 10000, c.From())
	ctx := context.Background()

	_, err := c.Spend(ctx, id, big.NewInt(100))
	require.NoError(t, err)
	_, err = c.Spend(ctx, id, big.NewInt(100))
	require.NoError(t, err)

	require.Len(t, backend.sent, 2)
	assert.Equal(t, uint64(0), backend.sent[0].Nonce())
	assert.Equal(t, uint64(1), backend.sent[1].Nonce())
	assert.Equal(t, uint64(spendGasLimit), backend.sent[0].Gas())
}

func TestWaitMinedContextExpiry(t *testing.T) {
	backend := newMockBackend(t)
	c := testClient(t, backend, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.WaitMined(ctx, common.HexToHash("0xdead"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseTaskID(t *testing.T) {
	want := taskID(0xab)
	got, err := ParseTaskID("0x00000000000000000000000000000000000000000000000000000000000000ab")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = ParseTaskID("00000000000000000000000000000000000000000000000000000000000000ab")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = ParseTaskID("0x1234")
	assert.Error(t, err)
	_, err = ParseTaskID("not-hex")
	assert.Error(t, err)
}
