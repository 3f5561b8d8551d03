package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cosmo-local-credit/saleops/contracts/token"
	"github.com/cosmo-local-credit/saleops/plan"
)

// Issuance is one token transfer out of the issuing (allower) account.
type Issuance struct {
	To     common.Address
	Amount *big.Int
	TxHash common.Hash
	Block  uint64
	Time   time.Time
}

// Issuances lists Transfer events of tok sent from the allower account,
// which is how issuer contracts pay out.
func Issuances(ctx context.Context, s *Scanner, tok, allower common.Address) ([]Issuance, error) {
	var out []Issuance
	_, err := s.Scan(ctx, tok, token.EventTransfer, func(ev Event) error {
		var from, to common.Address
		value := new(big.Int)
		if err := token.EventTransfer.DecodeArgs(&ev.Log, &from, &to, value); err != nil {
			return fmt.Errorf("decode Transfer in tx %s: %w", ev.Log.TxHash.Hex(), err)
		}
		if from != allower {
			return nil
		}
		out = append(out, Issuance{To: to, Amount: value, TxHash: ev.Log.TxHash, Block: ev.Log.BlockNumber, Time: ev.Time})
		return nil
	})
	return out, err
}

func WriteIssuances(w io.Writer, items []Issuance, decimals int32) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"address", "amount", "tx_hash", "block", "issued_at"}); err != nil {
		return err
	}
	for _, it := range items {
		rec := []string{
			it.To.Hex(),
			plan.FromUnits(it.Amount, decimals).String(),
			it.TxHash.Hex(),
			strconv.FormatUint(it.Block, 10),
			it.Time.Format(timeLayout),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
