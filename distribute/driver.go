// Package distribute drives batched, resumable distribution jobs: every
// plan row becomes at most one transaction, at most BatchSize of them are
// outstanding, and receipts are confirmed in submission order.
package distribute

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cosmo-local-credit/saleops/chain"
	"github.com/cosmo-local-credit/saleops/failure"
	"github.com/cosmo-local-credit/saleops/plan"
)

const DefaultBatchSize = 16

type (
	Options struct {
		BatchSize int
		// GasLimit overrides the job's per-transaction ceiling when set.
		GasLimit       uint64
		GasPrice       *big.Int
		Start          int
		Count          int
		AllowZero      bool
		ReceiptTimeout time.Duration
		// StatePath is the resume document; empty keeps state in memory.
		StatePath string
	}

	Driver struct {
		gw      chain.Gateway
		job     Job
		opts    Options
		lggr    *zap.SugaredLogger
		metrics metricLabeler
	}

	Result struct {
		Submitted int
		Confirmed int
		Skipped   []string
		// Settled maps keys settled during this run to their transaction.
		Settled map[string]string
	}

	pending struct {
		row  plan.Row
		key  string
		tx   chain.Tx
		hash common.Hash
	}
)

func NewDriver(gw chain.Gateway, job Job, opts Options, lggr *zap.SugaredLogger) *Driver {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.ReceiptTimeout == 0 {
		opts.ReceiptTimeout = chain.DefaultReceiptTimeout
	}
	return &Driver{gw: gw, job: job, opts: opts, lggr: lggr, metrics: metricLabeler{job: job.Name()}}
}

// Run applies p. The resume fingerprint covers the whole plan so runs over
// different Start/Count windows share one resume document.
func (d *Driver) Run(ctx context.Context, p *plan.Plan) (*Result, error) {
	name := d.job.Name()
	if err := p.CheckUnique(d.job.Key); err != nil {
		return nil, failure.New(failure.KindInvariant, name, "", err)
	}
	state, err := LoadState(d.opts.StatePath, p.Fingerprint())
	if err != nil {
		kind := failure.KindIO
		if errors.Is(err, ErrResumeConflict) {
			kind = failure.KindResumeConflict
		}
		return nil, failure.New(kind, name, d.opts.StatePath, err)
	}

	window := p.Slice(d.opts.Start, d.opts.Count)
	res := &Result{Settled: map[string]string{}}
	var todo []pending
	for _, row := range window.Rows {
		item, err := d.prepare(ctx, state, row, window.Decimals)
		switch {
		case errors.Is(err, ErrAlreadyApplied):
			d.lggr.Debugw("Skipping row", "key", item.key, "line", row.Line, "reason", err)
			d.metrics.skipped()
			res.Skipped = append(res.Skipped, item.key)
		case errors.Is(err, ErrRowRejected):
			return res, failure.New(failure.KindValidation, name, item.key, err)
		case err != nil:
			return res, failure.New(failure.KindChain, name, item.key, err)
		default:
			todo = append(todo, item)
		}
	}

	rows := make([]plan.Row, len(todo))
	for i, item := range todo {
		rows[i] = item.row
	}
	if err := d.job.Preflight(ctx, d.gw, p, rows); err != nil {
		kind := failure.KindChain
		if errors.Is(err, ErrVaultTotal) || errors.Is(err, ErrRowRejected) {
			kind = failure.KindInvariant
		}
		return res, failure.New(kind, name, "preflight", err)
	}

	d.lggr.Infow("Starting distribution", "job", name, "rows", len(window.Rows), "pending", len(todo), "skipped", len(res.Skipped), "batchSize", d.opts.BatchSize)
	if err := d.pipeline(ctx, state, todo, res); err != nil {
		return res, err
	}
	d.lggr.Infow("Distribution finished", "job", name, "submitted", res.Submitted, "confirmed", res.Confirmed, "skipped", len(res.Skipped))
	return res, nil
}

// prepare validates a row and decides whether it still needs a transaction.
func (d *Driver) prepare(ctx context.Context, state *State, row plan.Row, decimals int32) (pending, error) {
	item := pending{row: row, key: d.job.Key(row)}
	if row.Amount.IsZero() && d.opts.AllowZero {
		return item, fmt.Errorf("%w: zero amount", ErrAlreadyApplied)
	}
	tx, err := d.job.Build(row, decimals)
	if err != nil {
		return item, err
	}
	if d.opts.GasLimit != 0 {
		tx.GasLimit = d.opts.GasLimit
	}
	tx.GasPrice = d.opts.GasPrice
	item.tx = tx

	if hash, ok := state.Lookup(item.key); ok {
		return item, fmt.Errorf("%w: settled by %s", ErrAlreadyApplied, hash)
	}
	applied, err := d.job.Applied(ctx, d.gw, row)
	if err != nil {
		return item, fmt.Errorf("check row %s: %w", item.key, err)
	}
	if applied {
		return item, fmt.Errorf("%w: on chain", ErrAlreadyApplied)
	}
	return item, nil
}

// pipeline submits rows in order while a single confirmer drains receipts
// FIFO. The semaphore bounds submitted-but-unconfirmed transactions. When
// submission stops, for cancellation or failure, outstanding receipts are
// still confirmed so the resume state stays accurate.
func (d *Driver) pipeline(ctx context.Context, state *State, todo []pending, res *Result) error {
	sem := semaphore.NewWeighted(int64(d.opts.BatchSize))
	queue := make(chan pending, d.opts.BatchSize)
	submitCtx, stop := context.WithCancel(ctx)
	defer stop()

	var submitErr, confirmErr error
	var g errgroup.Group
	g.Go(func() error {
		defer close(queue)
		submitErr = d.submit(submitCtx, state, todo, sem, queue, res)
		return nil
	})
	g.Go(func() error {
		confirmErr = d.confirm(context.WithoutCancel(ctx), state, sem, queue, stop, res)
		return nil
	})
	_ = g.Wait()

	if confirmErr != nil {
		return confirmErr
	}
	if submitErr != nil {
		if ctx.Err() != nil {
			return failure.New(failure.KindChain, d.job.Name(), "", fmt.Errorf("distribution interrupted: %w", ctx.Err()))
		}
		return submitErr
	}
	return nil
}

func (d *Driver) submit(ctx context.Context, state *State, todo []pending, sem *semaphore.Weighted, queue chan<- pending, res *Result) error {
	_, early := d.job.(settlesOnSubmit)
	for _, item := range todo {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		// Acquire may win against a cancellation that happened first.
		if err := ctx.Err(); err != nil {
			sem.Release(1)
			return err
		}
		hash, err := d.gw.Send(ctx, item.tx)
		if err != nil {
			sem.Release(1)
			return failure.New(failure.KindChain, d.job.Name(), item.key, fmt.Errorf("send: %w", err))
		}
		item.hash = hash
		res.Submitted++
		d.metrics.submitted()
		d.lggr.Infow("Submitted", "key", item.key, "line", item.row.Line, "to", item.row.Address.Hex(), "amount", item.row.Amount.String(), "tx", hash.Hex())
		if early {
			if err := state.Settle(item.key, hash.Hex()); err != nil {
				queue <- item
				return failure.New(failure.KindIO, d.job.Name(), item.key, err)
			}
		}
		queue <- item
	}
	return nil
}

// confirm waits for every queued transaction in order. The first failure
// stops submission; later receipts are still drained and recorded.
func (d *Driver) confirm(ctx context.Context, state *State, sem *semaphore.Weighted, queue <-chan pending, stop context.CancelFunc, res *Result) error {
	_, early := d.job.(settlesOnSubmit)
	var first error
	fail := func(err error) {
		if first == nil {
			first = err
			stop()
		}
	}
	for item := range queue {
		receipt, err := d.gw.WaitReceipt(ctx, item.hash, d.opts.ReceiptTimeout)
		switch {
		case err != nil:
			fail(failure.New(failure.KindChain, d.job.Name(), item.key, err))
		case receipt.Reverted():
			d.metrics.reverted()
			d.lggr.Errorw("Transaction reverted", "key", item.key, "tx", item.hash.Hex(), "gasUsed", receipt.GasUsed, "gasLimit", receipt.GasLimit)
			if early {
				if err := state.Forget(item.key); err != nil {
					d.lggr.Errorw("Failed to drop reverted row from resume state", "key", item.key, "err", err)
				}
			}
			fail(failure.New(failure.KindChain, d.job.Name(), item.key,
				fmt.Errorf("%w: %s (gas used %d of %d)", ErrChainRevert, item.hash.Hex(), receipt.GasUsed, receipt.GasLimit)))
		default:
			if !early {
				if err := state.Settle(item.key, item.hash.Hex()); err != nil {
					fail(failure.New(failure.KindIO, d.job.Name(), item.key, err))
					sem.Release(1)
					continue
				}
			}
			res.Confirmed++
			res.Settled[item.key] = item.hash.Hex()
			d.metrics.confirmed()
			d.lggr.Debugw("Confirmed", "key", item.key, "tx", item.hash.Hex(), "block", receipt.BlockNumber)
		}
		// Released only after a failure has stopped submission.
		sem.Release(1)
	}
	return first
}
