package plan

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

var (
	ErrNotInteger   = errors.New("amount is not an integer number of token units")
	ErrDuplicateKey = errors.New("duplicate key in plan")
	ErrTotal        = errors.New("plan total mismatch")
)

type (
	// Row is one line of a distribution plan. Amount is in whole tokens and
	// may carry up to the token's decimals.
	Row struct {
		Line            int
		Address         common.Address
		Amount          decimal.Decimal
		ExternalID      *big.Int
		TokensPerSecond decimal.Decimal
		Duration        uint64
		Ref             string
	}

	Plan struct {
		Decimals int32
		Rows     []Row
		Total    decimal.Decimal
	}
)

func New(decimals int32, rows []Row) *Plan {
	p := &Plan{Decimals: decimals, Rows: rows, Total: decimal.Zero}
	for _, r := range rows {
		p.Total = p.Total.Add(r.Amount)
	}
	return p
}

// ToUnits scales a token amount to the smallest unit, rejecting results
// that are not integers.
func ToUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	scaled := amount.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s with %d decimals", ErrNotInteger, amount, decimals)
	}
	return scaled.BigInt(), nil
}

func FromUnits(units *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(units, -decimals)
}

func (r Row) Units(decimals int32) (*big.Int, error) {
	return ToUnits(r.Amount, decimals)
}

// TapUnits is the vesting rate in token units per second: an explicit rate
// wins over a duration; zero when neither is set.
func (r Row) TapUnits(decimals int32) (*big.Int, error) {
	if !r.TokensPerSecond.IsZero() {
		return ToUnits(r.TokensPerSecond, decimals)
	}
	if r.Duration == 0 {
		return new(big.Int), nil
	}
	units, err := r.Units(decimals)
	if err != nil {
		return nil, err
	}
	return units.Div(units, new(big.Int).SetUint64(r.Duration)), nil
}

func (p *Plan) TotalUnits() (*big.Int, error) {
	return ToUnits(p.Total, p.Decimals)
}

// CheckUnique enforces the dedup invariant for the key a job settles rows by.
func (p *Plan) CheckUnique(key func(Row) string) error {
	seen := make(map[string]int, len(p.Rows))
	for _, r := range p.Rows {
		k := key(r)
		if prev, ok := seen[k]; ok {
			return fmt.Errorf("%w: %s on lines %d and %d", ErrDuplicateKey, k, prev, r.Line)
		}
		seen[k] = r.Line
	}
	return nil
}

func (p *Plan) CheckTotal(expected decimal.Decimal) error {
	if !p.Total.Equal(expected) {
		return fmt.Errorf("%w: plan sums to %s, expected %s", ErrTotal, p.Total, expected)
	}
	return nil
}

// Slice returns the plan restricted to count rows starting at start;
// count <= 0 means until the end.
func (p *Plan) Slice(start, count int) *Plan {
	if start < 0 {
		start = 0
	}
	if start > len(p.Rows) {
		start = len(p.Rows)
	}
	end := len(p.Rows)
	if count > 0 && start+count < end {
		end = start + count
	}
	return New(p.Decimals, p.Rows[start:end])
}

// Fingerprint identifies the plan content for resume-state matching.
func (p *Plan) Fingerprint() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "decimals=%d\n", p.Decimals)
	for _, r := range p.Rows {
		id := ""
		if r.ExternalID != nil {
			id = r.ExternalID.String()
		}
		fmt.Fprintf(&sb, "%s,%s,%s,%s,%d,%s\n", r.Address.Hex(), r.Amount.String(), id, r.TokensPerSecond.String(), r.Duration, r.Ref)
	}
	return crypto.Keccak256Hash([]byte(sb.String())).Hex()
}
