package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/failsafe-go/failsafe-go"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lmittmann/w3"
	"github.com/lmittmann/w3/module/eth"
	"github.com/lmittmann/w3/w3types"
	"go.uber.org/zap"
)

const headerCacheSize = 4096

// Prompter asks the operator for the password of a node-managed account.
type Prompter func(addr common.Address) (string, error)

type (
	Config struct {
		RPCURL  string
		ChainID uint64
		// PrivateKey signs locally. When nil, Account must be a node-managed
		// account and transactions go through eth_sendTransaction.
		PrivateKey   *ecdsa.PrivateKey
		Account      common.Address
		GasFeeCap    *big.Int
		GasTipCap    *big.Int
		PollInterval time.Duration
		Prompt       Prompter
		Resilience   ResilienceConfig
	}

	Client struct {
		client    *w3.Client
		signer    types.Signer
		key       *ecdsa.PrivateKey
		account   common.Address
		chainID   uint64
		gasFeeCap *big.Int
		gasTipCap *big.Int
		poll      time.Duration
		prompt    Prompter
		reads     failsafe.Executor[any]
		headers   *lru.Cache[uint64, Block]
		lggr      *zap.SugaredLogger

		mu          sync.Mutex
		nonce       uint64
		nonceLoaded bool
		gasLimits   map[common.Hash]uint64
		password    string
		unlocked    bool
	}
)

var _ Gateway = (*Client)(nil)

func Dial(cfg Config, lggr *zap.SugaredLogger) (*Client, error) {
	client, err := w3.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	headers, err := lru.New[uint64, Block](headerCacheSize)
	if err != nil {
		return nil, fmt.Errorf("header cache: %w", err)
	}
	account := cfg.Account
	if cfg.PrivateKey != nil {
		account = crypto.PubkeyToAddress(cfg.PrivateKey.PublicKey)
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	resilience := cfg.Resilience
	if resilience.MaxRetries == 0 && resilience.RequestTimeout == 0 {
		resilience = DefaultResilienceConfig()
	}
	return &Client{
		client:    client,
		signer:    types.NewLondonSigner(new(big.Int).SetUint64(cfg.ChainID)),
		key:       cfg.PrivateKey,
		account:   account,
		chainID:   cfg.ChainID,
		gasFeeCap: cfg.GasFeeCap,
		gasTipCap: cfg.GasTipCap,
		poll:      poll,
		prompt:    cfg.Prompt,
		reads:     newReadExecutor(resilience, lggr),
		headers:   headers,
		lggr:      lggr,
		gasLimits: map[common.Hash]uint64{},
	}, nil
}

func (c *Client) ChainID() uint64 { return c.chainID }

func (c *Client) Account() common.Address { return c.account }

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) read(ctx context.Context, calls ...w3types.RPCCaller) error {
	return c.reads.WithContext(ctx).Run(func() error {
		return c.client.CallCtx(ctx, calls...)
	})
}

// nextNonce hands out pending nonces locally so several transactions can be
// in flight at once. Callers hold c.mu.
func (c *Client) nextNonce(ctx context.Context) (uint64, error) {
	if !c.nonceLoaded {
		var nonce uint64
		if err := c.read(ctx, eth.Nonce(c.account, big.NewInt(-1)).Returns(&nonce)); err != nil {
			return 0, fmt.Errorf("get nonce: %w", err)
		}
		c.nonce = nonce
		c.nonceLoaded = true
	}
	return c.nonce, nil
}

func (c *Client) buildTx(nonce uint64, tx Tx) *types.Transaction {
	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}
	if tx.GasPrice != nil {
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: tx.GasPrice,
			Gas:      tx.GasLimit,
			To:       tx.To,
			Value:    value,
			Data:     tx.Data,
		})
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(c.chainID),
		Nonce:     nonce,
		GasFeeCap: c.gasFeeCap,
		GasTipCap: c.gasTipCap,
		Gas:       tx.GasLimit,
		To:        tx.To,
		Value:     value,
		Data:      tx.Data,
	})
}

func (c *Client) Send(ctx context.Context, tx Tx) (common.Hash, error) {
	if tx.GasLimit == 0 {
		return common.Hash{}, errors.New("send tx: gas limit is required")
	}
	if c.key == nil {
		return c.sendFromNode(ctx, tx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, err := c.nextNonce(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	signedTx, err := types.SignTx(c.buildTx(nonce, tx), c.signer, c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := c.client.CallCtx(ctx, eth.SendTx(signedTx).Returns(nil)); err != nil {
		// the node may have seen a nonce we did not; reload on next send
		c.nonceLoaded = false
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}
	c.nonce++
	c.gasLimits[signedTx.Hash()] = tx.GasLimit
	c.lggr.Debugw("Sent transaction", "hash", signedTx.Hash(), "nonce", nonce, "gas", tx.GasLimit)
	return signedTx.Hash(), nil
}

func (c *Client) sendFromNode(ctx context.Context, tx Tx) (common.Hash, error) {
	var hash common.Hash
	call := &sendTransactionCall{from: c.account, tx: tx, result: &hash}
	if err := c.client.CallCtx(ctx, call); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}
	c.mu.Lock()
	c.gasLimits[hash] = tx.GasLimit
	c.mu.Unlock()
	return hash, nil
}

func (c *Client) gasLimitOf(ctx context.Context, hash common.Hash) (uint64, error) {
	c.mu.Lock()
	limit, ok := c.gasLimits[hash]
	c.mu.Unlock()
	if ok {
		return limit, nil
	}
	var tx *types.Transaction
	if err := c.read(ctx, eth.Tx(hash).Returns(&tx)); err != nil {
		return 0, fmt.Errorf("get tx %s: %w", hash.Hex(), err)
	}
	return tx.Gas(), nil
}

func (c *Client) WaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*Receipt, error) {
	if timeout <= 0 {
		timeout = DefaultReceiptTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		var receipt *types.Receipt
		err := c.client.CallCtx(waitCtx, eth.TxReceipt(hash).Returns(&receipt))
		if err == nil && receipt != nil {
			limit, err := c.gasLimitOf(ctx, hash)
			if err != nil {
				return nil, err
			}
			return &Receipt{
				TxHash:          receipt.TxHash,
				BlockNumber:     receipt.BlockNumber.Uint64(),
				GasUsed:         receipt.GasUsed,
				GasLimit:        limit,
				Status:          receipt.Status,
				ContractAddress: receipt.ContractAddress,
				Logs:            receipt.Logs,
			}, nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, hash.Hex(), timeout)
		case <-ticker.C:
		}
	}
}

func (c *Client) Call(ctx context.Context, to common.Address, input []byte) ([]byte, error) {
	var output []byte
	msg := &w3types.Message{From: c.account, To: &to, Input: input}
	if err := c.read(ctx, eth.Call(msg, nil, nil).Returns(&output)); err != nil {
		return nil, fmt.Errorf("call %s: %w", to.Hex(), err)
	}
	return output, nil
}

func (c *Client) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	var code []byte
	if err := c.read(ctx, eth.Code(addr, nil).Returns(&code)); err != nil {
		return nil, fmt.Errorf("get code: %w", err)
	}
	return code, nil
}

func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	balance := new(big.Int)
	if err := c.read(ctx, eth.Balance(addr, nil).Returns(&balance)); err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	price := new(big.Int)
	if err := c.read(ctx, eth.GasPrice().Returns(&price)); err != nil {
		return nil, fmt.Errorf("get gas price: %w", err)
	}
	return price, nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	number := new(big.Int)
	if err := c.read(ctx, eth.BlockNumber().Returns(&number)); err != nil {
		return 0, fmt.Errorf("get block number: %w", err)
	}
	return number.Uint64(), nil
}

func (c *Client) Block(ctx context.Context, number uint64) (Block, error) {
	if b, ok := c.headers.Get(number); ok {
		return b, nil
	}
	var header *types.Header
	if err := c.read(ctx, eth.HeaderByNumber(new(big.Int).SetUint64(number)).Returns(&header)); err != nil {
		return Block{}, fmt.Errorf("get block %d: %w", number, err)
	}
	b := Block{Number: number, Hash: header.Hash(), Timestamp: header.Time}
	c.headers.Add(number, b)
	return b, nil
}

func (c *Client) Logs(ctx context.Context, q LogQuery) ([]types.Log, error) {
	var logs []types.Log
	filter := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(q.FromBlock),
		ToBlock:   new(big.Int).SetUint64(q.ToBlock),
		Addresses: []common.Address{q.Address},
		Topics:    q.Topics,
	}
	if err := c.read(ctx, eth.Logs(filter).Returns(&logs)); err != nil {
		return nil, fmt.Errorf("get logs %d-%d: %w", q.FromBlock, q.ToBlock, err)
	}
	return logs, nil
}

// EnsureUnlocked is a no-op for locally held keys. Node-managed accounts are
// unlocked with a password asked at most once per client.
func (c *Client) EnsureUnlocked(ctx context.Context, addr common.Address, timeout time.Duration) error {
	if c.key != nil && addr == c.account {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unlocked {
		return nil
	}
	if c.password == "" {
		if c.prompt == nil {
			return fmt.Errorf("%w: %s (no password prompt configured)", ErrLocked, addr.Hex())
		}
		password, err := c.prompt(addr)
		if err != nil {
			return fmt.Errorf("prompt password: %w", err)
		}
		c.password = password
	}
	var ok bool
	call := &unlockAccountCall{addr: addr, password: c.password, duration: uint64(timeout.Seconds()), result: &ok}
	if err := c.client.CallCtx(ctx, call); err != nil {
		return fmt.Errorf("unlock %s: %w", addr.Hex(), err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocked, addr.Hex())
	}
	c.unlocked = true
	return nil
}
