package chain

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const DefaultReceiptTimeout = 5 * time.Minute

var (
	ErrTimeout  = errors.New("timed out waiting for receipt")
	ErrReverted = errors.New("transaction reverted")
	ErrLocked   = errors.New("account is locked")
)

type (
	// Tx is an unsigned transaction request. A nil GasPrice selects EIP-1559
	// fees from the gateway defaults.
	Tx struct {
		To       *common.Address
		Data     []byte
		Value    *big.Int
		GasLimit uint64
		GasPrice *big.Int
	}

	Receipt struct {
		TxHash          common.Hash
		BlockNumber     uint64
		GasUsed         uint64
		GasLimit        uint64
		Status          uint64
		ContractAddress common.Address
		Logs            []*types.Log
	}

	Block struct {
		Number    uint64
		Hash      common.Hash
		Timestamp uint64
	}

	LogQuery struct {
		Address   common.Address
		Topics    [][]common.Hash
		FromBlock uint64
		ToBlock   uint64
	}
)

// Gateway hides node RPC and signing. Send may be called concurrently from
// one job; WaitReceipt may run on a different goroutine than Send.
type Gateway interface {
	ChainID() uint64
	Account() common.Address
	EnsureUnlocked(ctx context.Context, addr common.Address, timeout time.Duration) error
	Send(ctx context.Context, tx Tx) (common.Hash, error)
	WaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*Receipt, error)
	Call(ctx context.Context, to common.Address, input []byte) ([]byte, error)
	Code(ctx context.Context, addr common.Address) ([]byte, error)
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Block(ctx context.Context, number uint64) (Block, error)
	Logs(ctx context.Context, q LogQuery) ([]types.Log, error)
	Close() error
}

// Reverted reports whether the transaction consumed its whole gas limit,
// which is how a failed transaction shows up on pre-Byzantium chains.
// Receipts carrying a failed status are reverted too.
func (r *Receipt) Reverted() bool {
	if r.GasLimit != 0 && r.GasUsed == r.GasLimit {
		return true
	}
	return r.Status == types.ReceiptStatusFailed
}
