package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lmittmann/w3"
)

// View calls a read-only contract function and decodes its returns.
func View(ctx context.Context, gw Gateway, to common.Address, fn *w3.Func, args []any, returns ...any) error {
	input, err := fn.EncodeArgs(args...)
	if err != nil {
		return fmt.Errorf("encode %s: %w", fn.Signature, err)
	}
	output, err := gw.Call(ctx, to, input)
	if err != nil {
		return err
	}
	if len(returns) == 0 {
		return nil
	}
	if err := fn.DecodeReturns(output, returns...); err != nil {
		return fmt.Errorf("decode %s: %w", fn.Signature, err)
	}
	return nil
}

// ViewBig is View for functions returning a single uint256.
func ViewBig(ctx context.Context, gw Gateway, to common.Address, fn *w3.Func, args ...any) (*big.Int, error) {
	out := new(big.Int)
	if err := View(ctx, gw, to, fn, args, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Transact sends a contract call, waits for it and fails on revert.
func Transact(ctx context.Context, gw Gateway, to common.Address, fn *w3.Func, gasLimit uint64, gasPrice *big.Int, args ...any) (*Receipt, error) {
	input, err := fn.EncodeArgs(args...)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", fn.Signature, err)
	}
	return SendAndWait(ctx, gw, Tx{To: &to, Data: input, GasLimit: gasLimit, GasPrice: gasPrice}, DefaultReceiptTimeout)
}

func SendAndWait(ctx context.Context, gw Gateway, tx Tx, timeout time.Duration) (*Receipt, error) {
	hash, err := gw.Send(ctx, tx)
	if err != nil {
		return nil, err
	}
	receipt, err := gw.WaitReceipt(ctx, hash, timeout)
	if err != nil {
		return nil, err
	}
	if receipt.Reverted() {
		return receipt, fmt.Errorf("%w: %s (gas used %d of %d)", ErrReverted, hash.Hex(), receipt.GasUsed, receipt.GasLimit)
	}
	return receipt, nil
}

// LogIterator pages through the logs of one contract event in block windows.
// It is finite and can be restarted from any block by setting From.
type LogIterator struct {
	gw     Gateway
	query  LogQuery
	window uint64
	next   uint64
	end    uint64
	buf    []types.Log
	done   bool
	err    error
}

const DefaultLogWindow = 10_000

func NewLogIterator(gw Gateway, address common.Address, topic0 common.Hash, from, to, window uint64) *LogIterator {
	if window == 0 {
		window = DefaultLogWindow
	}
	return &LogIterator{
		gw:     gw,
		query:  LogQuery{Address: address, Topics: [][]common.Hash{{topic0}}},
		window: window,
		next:   from,
		end:    to,
	}
}

// Next returns the next log, or false when the range is exhausted or an
// error occurred (see Err).
func (it *LogIterator) Next(ctx context.Context) (types.Log, bool) {
	for len(it.buf) == 0 {
		if it.done || it.err != nil {
			return types.Log{}, false
		}
		if it.next > it.end {
			it.done = true
			return types.Log{}, false
		}
		to := it.next + it.window - 1
		if to > it.end || to < it.next {
			to = it.end
		}
		q := it.query
		q.FromBlock, q.ToBlock = it.next, to
		logs, err := it.gw.Logs(ctx, q)
		if err != nil {
			it.err = err
			return types.Log{}, false
		}
		it.buf = logs
		if to == it.end {
			it.done = true
		} else {
			it.next = to + 1
		}
	}
	log := it.buf[0]
	it.buf = it.buf[1:]
	return log, true
}

func (it *LogIterator) Err() error { return it.err }
