// Package export streams contract events into CSV files, resolving block
// times through a file backed cache.
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lmittmann/w3"
	"go.uber.org/zap"

	"github.com/cosmo-local-credit/saleops/chain"
)

const DefaultFlushEvery = 100

type (
	Event struct {
		Log  types.Log
		Time time.Time
	}

	Scanner struct {
		gw    chain.Gateway
		cache *TimestampCache
		lggr  *zap.SugaredLogger

		FromBlock uint64
		// ToBlock zero scans up to the current head.
		ToBlock    uint64
		Window     uint64
		FlushEvery int
	}
)

func NewScanner(gw chain.Gateway, cache *TimestampCache, lggr *zap.SugaredLogger) *Scanner {
	return &Scanner{gw: gw, cache: cache, lggr: lggr, FlushEvery: DefaultFlushEvery}
}

// Scan calls fn for every ev log of addr in block order. The timestamp
// cache is flushed every FlushEvery events and once at the end.
func (s *Scanner) Scan(ctx context.Context, addr common.Address, ev *w3.Event, fn func(Event) error) (int, error) {
	to := s.ToBlock
	if to == 0 {
		head, err := s.gw.BlockNumber(ctx)
		if err != nil {
			return 0, fmt.Errorf("read head: %w", err)
		}
		to = head
	}
	flushEvery := s.FlushEvery
	if flushEvery <= 0 {
		flushEvery = DefaultFlushEvery
	}

	s.lggr.Infow("Scanning events", "contract", addr.Hex(), "event", ev.Signature, "from", s.FromBlock, "to", to)
	it := chain.NewLogIterator(s.gw, addr, ev.Topic0, s.FromBlock, to, s.Window)
	n := 0
	for {
		l, ok := it.Next(ctx)
		if !ok {
			break
		}
		ts, err := s.cache.Timestamp(ctx, l.BlockNumber)
		if err != nil {
			return n, err
		}
		if err := fn(Event{Log: l, Time: ts}); err != nil {
			return n, err
		}
		n++
		if n%flushEvery == 0 {
			if err := s.cache.Flush(); err != nil {
				return n, err
			}
			s.lggr.Debugw("Scan progress", "events", n, "block", l.BlockNumber)
		}
	}
	if err := it.Err(); err != nil {
		return n, fmt.Errorf("read logs: %w", err)
	}
	if err := s.cache.Flush(); err != nil {
		return n, err
	}
	s.lggr.Infow("Scan finished", "event", ev.Signature, "events", n)
	return n, nil
}
