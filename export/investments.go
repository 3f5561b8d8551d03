package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math/big"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/cosmo-local-credit/saleops/contracts/crowdsale"
	"github.com/cosmo-local-credit/saleops/plan"
)

const timeLayout = "2006-01-02 15:04:05"

type (
	Investment struct {
		Investor   common.Address
		Wei        *big.Int
		Tokens     *big.Int
		CustomerID *big.Int
		TxHash     common.Hash
		TxIndex    uint
		Block      uint64
		Time       time.Time
	}

	// Investor aggregates every investment of one address.
	Investor struct {
		Address      common.Address
		FirstPayment time.Time
		LastPayment  time.Time
		Payments     int
		Wei          *big.Int
		Tokens       *big.Int
	}
)

// Investments collects the Invested events of a crowdsale.
func Investments(ctx context.Context, s *Scanner, sale common.Address) ([]Investment, error) {
	var out []Investment
	_, err := s.Scan(ctx, sale, crowdsale.EventInvested, func(ev Event) error {
		inv := Investment{
			Wei:        new(big.Int),
			Tokens:     new(big.Int),
			CustomerID: new(big.Int),
			TxHash:     ev.Log.TxHash,
			TxIndex:    ev.Log.TxIndex,
			Block:      ev.Log.BlockNumber,
			Time:       ev.Time,
		}
		if err := crowdsale.EventInvested.DecodeArgs(&ev.Log, &inv.Investor, inv.Wei, inv.Tokens, inv.CustomerID); err != nil {
			return fmt.Errorf("decode Invested in tx %s: %w", ev.Log.TxHash.Hex(), err)
		}
		out = append(out, inv)
		return nil
	})
	return out, err
}

// Investors folds investments per address, ordered by first payment.
func Investors(invs []Investment) []*Investor {
	byAddr := map[common.Address]*Investor{}
	var order []*Investor
	for _, inv := range invs {
		agg, ok := byAddr[inv.Investor]
		if !ok {
			agg = &Investor{Address: inv.Investor, FirstPayment: inv.Time, Wei: new(big.Int), Tokens: new(big.Int)}
			byAddr[inv.Investor] = agg
			order = append(order, agg)
		}
		agg.Payments++
		agg.LastPayment = inv.Time
		agg.Wei.Add(agg.Wei, inv.Wei)
		agg.Tokens.Add(agg.Tokens, inv.Tokens)
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i].FirstPayment.Before(order[j].FirstPayment) })
	return order
}

func customerID(id *big.Int) string {
	if id == nil || id.Sign() == 0 {
		return ""
	}
	var u uuid.UUID
	id.FillBytes(u[:])
	return u.String()
}

func WriteRawInvestments(w io.Writer, invs []Investment, decimals int32) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"address", "payment_at", "tx_hash", "tx_index", "block", "invested_eth", "received_tokens", "customer_id"}); err != nil {
		return err
	}
	for _, inv := range invs {
		rec := []string{
			inv.Investor.Hex(),
			inv.Time.Format(timeLayout),
			inv.TxHash.Hex(),
			strconv.FormatUint(uint64(inv.TxIndex), 10),
			strconv.FormatUint(inv.Block, 10),
			plan.FromUnits(inv.Wei, 18).String(),
			plan.FromUnits(inv.Tokens, decimals).String(),
			customerID(inv.CustomerID),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteInvestors(w io.Writer, investors []*Investor, decimals int32) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"address", "first_payment_at", "last_payment_at", "payments", "invested_eth", "received_tokens"}); err != nil {
		return err
	}
	for _, inv := range investors {
		rec := []string{
			inv.Address.Hex(),
			inv.FirstPayment.Format(timeLayout),
			inv.LastPayment.Format(timeLayout),
			strconv.Itoa(inv.Payments),
			plan.FromUnits(inv.Wei, 18).String(),
			plan.FromUnits(inv.Tokens, decimals).String(),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
