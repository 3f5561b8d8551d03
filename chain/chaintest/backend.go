// Package chaintest provides a deterministic in-memory chain implementing
// chain.Gateway, with simulated sale contracts, for tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cosmo-local-credit/saleops/chain"
)

const (
	GenesisTime = 1_500_000_000
	BlockTime   = 12
)

var ErrSendFailed = errors.New("simulated send failure")

// Contract is a simulated contract. Call must not mutate state when it
// returns an error, and must not mutate state when env.View is set.
type Contract interface {
	Call(env *Env, input []byte) ([]byte, error)
}

// Deployer instantiates a contract for init code sent in a deploy transaction.
type Deployer func(b *Backend, from common.Address, initCode []byte) (Contract, error)

type Backend struct {
	mu        sync.Mutex
	account   common.Address
	chainID   uint64
	head      uint64
	contracts map[common.Address]Contract
	balances  map[common.Address]*big.Int
	nonces    map[common.Address]uint64
	receipts  map[common.Hash]*chain.Receipt
	logs      []types.Log

	// Deploy handles transactions without a recipient; nil deploys a Stub.
	Deploy Deployer
	// FailSendAfter makes every Send after the first n fail; negative disables.
	FailSendAfter int

	Sends        int
	BlockFetches int
	Unlocks      int
	Sent         []chain.Tx
}

var _ chain.Gateway = (*Backend)(nil)

func NewBackend(account common.Address) *Backend {
	return &Backend{
		account:       account,
		chainID:       1337,
		contracts:     map[common.Address]Contract{},
		balances:      map[common.Address]*big.Int{},
		nonces:        map[common.Address]uint64{},
		receipts:      map[common.Hash]*chain.Receipt{},
		FailSendAfter: -1,
	}
}

func (b *Backend) ChainID() uint64         { return b.chainID }
func (b *Backend) Account() common.Address { return b.account }
func (b *Backend) Close() error            { return nil }

func (b *Backend) EnsureUnlocked(_ context.Context, _ common.Address, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Unlocks++
	return nil
}

// Install places a contract at addr.
func (b *Backend) Install(addr common.Address, c Contract) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contracts[addr] = c
}

func (b *Backend) SetBalance(addr common.Address, wei *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[addr] = new(big.Int).Set(wei)
}

func (b *Backend) balanceOf(addr common.Address) *big.Int {
	if v, ok := b.balances[addr]; ok {
		return v
	}
	return new(big.Int)
}

// Mine advances the head by n empty blocks.
func (b *Backend) Mine(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head += n
}

func (b *Backend) Head() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head
}

func (b *Backend) Send(_ context.Context, tx chain.Tx) (common.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.FailSendAfter >= 0 && b.Sends >= b.FailSendAfter {
		return common.Hash{}, ErrSendFailed
	}
	b.Sends++
	b.Sent = append(b.Sent, tx)

	from := b.account
	nonce := b.nonces[from]
	b.nonces[from] = nonce + 1
	b.head++

	hash := crypto.Keccak256Hash(from.Bytes(), new(big.Int).SetUint64(nonce).Bytes(), tx.Data)
	receipt := &chain.Receipt{
		TxHash:      hash,
		BlockNumber: b.head,
		GasLimit:    tx.GasLimit,
		Status:      types.ReceiptStatusSuccessful,
	}

	logs, contractAddr, err := b.execute(from, nonce, tx)
	if err != nil {
		receipt.GasUsed = tx.GasLimit
		receipt.Status = types.ReceiptStatusFailed
	} else {
		receipt.GasUsed = min(21_000+uint64(len(tx.Data))*16, tx.GasLimit-1)
		receipt.ContractAddress = contractAddr
		for i, l := range logs {
			l.BlockNumber = b.head
			l.TxHash = hash
			l.Index = uint(i)
			b.logs = append(b.logs, *l)
		}
		receipt.Logs = logs
	}
	b.receipts[hash] = receipt
	return hash, nil
}

func (b *Backend) execute(from common.Address, nonce uint64, tx chain.Tx) ([]*types.Log, common.Address, error) {
	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}
	if b.balanceOf(from).Cmp(value) < 0 {
		return nil, common.Address{}, errors.New("insufficient funds")
	}

	if tx.To == nil {
		addr := crypto.CreateAddress(from, nonce)
		var (
			c   Contract = &Stub{}
			err error
		)
		if b.Deploy != nil {
			if c, err = b.Deploy(b, from, tx.Data); err != nil {
				return nil, common.Address{}, err
			}
		}
		b.contracts[addr] = c
		b.transfer(from, addr, value)
		return nil, addr, nil
	}

	c, ok := b.contracts[*tx.To]
	if !ok {
		b.transfer(from, *tx.To, value)
		return nil, common.Address{}, nil
	}
	env := &Env{Backend: b, From: from, Self: *tx.To, Value: value}
	if _, err := c.Call(env, tx.Data); err != nil {
		return nil, common.Address{}, err
	}
	b.transfer(from, *tx.To, value)
	return env.logs, common.Address{}, nil
}

func (b *Backend) transfer(from, to common.Address, value *big.Int) {
	if value.Sign() == 0 {
		return
	}
	b.balances[from] = new(big.Int).Sub(b.balanceOf(from), value)
	b.balances[to] = new(big.Int).Add(b.balanceOf(to), value)
}

func (b *Backend) WaitReceipt(_ context.Context, hash common.Hash, timeout time.Duration) (*chain.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.receipts[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %s after %s", chain.ErrTimeout, hash.Hex(), timeout)
	}
	cp := *r
	return &cp, nil
}

func (b *Backend) Call(_ context.Context, to common.Address, input []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.contracts[to]
	if !ok {
		return nil, nil
	}
	return c.Call(&Env{Backend: b, From: b.account, Self: to, Value: new(big.Int), View: true}, input)
}

func (b *Backend) Code(_ context.Context, addr common.Address) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.contracts[addr]; ok {
		return []byte{0x60, 0x80}, nil
	}
	return nil, nil
}

func (b *Backend) Balance(_ context.Context, addr common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.balanceOf(addr)), nil
}

func (b *Backend) GasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *Backend) BlockNumber(context.Context) (uint64, error) {
	return b.Head(), nil
}

func (b *Backend) Block(_ context.Context, number uint64) (chain.Block, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.BlockFetches++
	if number > b.head {
		return chain.Block{}, fmt.Errorf("block %d not found", number)
	}
	return chain.Block{
		Number:    number,
		Hash:      crypto.Keccak256Hash(new(big.Int).SetUint64(number).Bytes()),
		Timestamp: BlockTimestamp(number),
	}, nil
}

func BlockTimestamp(number uint64) uint64 {
	return GenesisTime + number*BlockTime
}

func (b *Backend) Logs(_ context.Context, q chain.LogQuery) ([]types.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []types.Log
	for _, l := range b.logs {
		if l.Address != q.Address || l.BlockNumber < q.FromBlock || l.BlockNumber > q.ToBlock {
			continue
		}
		if len(q.Topics) > 0 && len(q.Topics[0]) > 0 && (len(l.Topics) == 0 || l.Topics[0] != q.Topics[0][0]) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// EmitAt appends a log at the given block, advancing the head if needed.
func (b *Backend) EmitAt(block uint64, l types.Log) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if block > b.head {
		b.head = block
	}
	l.BlockNumber = block
	b.logs = append(b.logs, l)
}

// Stub accepts every call and returns nothing.
type Stub struct {
	Calls [][]byte
}

func (s *Stub) Call(env *Env, input []byte) ([]byte, error) {
	if !env.View {
		s.Calls = append(s.Calls, input)
	}
	return nil, nil
}
