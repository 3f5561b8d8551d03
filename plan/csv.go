package plan

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cosmo-local-credit/saleops/chain"
)

var (
	ErrMissingColumn = errors.New("missing column")
	ErrZeroAmount    = errors.New("zero amount")
)

// Columns names the CSV headers to read. Address and Amount are required;
// empty optional names are not read.
type Columns struct {
	Address         string
	Amount          string
	ExternalID      string
	TokensPerSecond string
	Duration        string
	Ref             string
}

type ReadOptions struct {
	Decimals         int32
	AllowBadChecksum bool
	// AllowZero skips zero-amount rows instead of failing.
	AllowZero bool
}

type header map[string]int

func readHeader(r *csv.Reader, name string, required ...string) (header, error) {
	names, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: read header: %w", name, err)
	}
	h := header{}
	for i, n := range names {
		h[strings.TrimSpace(strings.TrimPrefix(n, "\ufeff"))] = i
	}
	for _, col := range required {
		if col == "" {
			continue
		}
		if _, ok := h[col]; !ok {
			return nil, fmt.Errorf("%s: %w %q", name, ErrMissingColumn, col)
		}
	}
	return h, nil
}

func (h header) get(rec []string, col string) string {
	if col == "" {
		return ""
	}
	i, ok := h[col]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr
}

// Read parses a canonical distribution plan. Any invalid row is fatal: the
// plan is expected to come out of the normalizer already clean.
func Read(r io.Reader, name string, cols Columns, opts ReadOptions) (*Plan, error) {
	cr := newReader(r)
	h, err := readHeader(cr, name, cols.Address, cols.Amount, cols.ExternalID, cols.TokensPerSecond, cols.Duration, cols.Ref)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		line, _ := cr.FieldPos(0)
		rawAddr := h.get(rec, cols.Address)
		if rawAddr == "" {
			continue
		}
		row := Row{Line: line, Ref: h.get(rec, cols.Ref)}
		if row.Address, err = chain.ParseAddress(rawAddr, opts.AllowBadChecksum); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, line, err)
		}
		if row.Amount, err = decimal.NewFromString(h.get(rec, cols.Amount)); err != nil {
			return nil, fmt.Errorf("%s:%d: bad amount: %w", name, line, err)
		}
		if row.Amount.IsZero() {
			if opts.AllowZero {
				continue
			}
			return nil, fmt.Errorf("%s:%d: %w for %s", name, line, ErrZeroAmount, row.Address.Hex())
		}
		if row.Amount.IsNegative() {
			return nil, fmt.Errorf("%s:%d: negative amount %s", name, line, row.Amount)
		}
		if _, err := row.Units(opts.Decimals); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, line, err)
		}
		if v := h.get(rec, cols.ExternalID); v != "" {
			id, ok := new(big.Int).SetString(v, 10)
			if !ok || id.Sign() <= 0 {
				return nil, fmt.Errorf("%s:%d: external id must be a positive integer, got %q", name, line, v)
			}
			row.ExternalID = id
		} else if cols.ExternalID != "" {
			return nil, fmt.Errorf("%s:%d: missing external id", name, line)
		}
		if v := h.get(rec, cols.TokensPerSecond); v != "" {
			if row.TokensPerSecond, err = decimal.NewFromString(v); err != nil {
				return nil, fmt.Errorf("%s:%d: bad tokens per second: %w", name, line, err)
			}
		}
		if v := h.get(rec, cols.Duration); v != "" {
			if row.Duration, err = strconv.ParseUint(v, 10, 64); err != nil {
				return nil, fmt.Errorf("%s:%d: bad duration: %w", name, line, err)
			}
		}
		rows = append(rows, row)
	}
	return New(opts.Decimals, rows), nil
}

// Write serializes a plan with address, amount and the optional columns
// that carry data.
func Write(w io.Writer, p *Plan) error {
	var hasID, hasTap, hasDuration, hasRef bool
	for _, r := range p.Rows {
		hasID = hasID || r.ExternalID != nil
		hasTap = hasTap || !r.TokensPerSecond.IsZero()
		hasDuration = hasDuration || r.Duration != 0
		hasRef = hasRef || r.Ref != ""
	}
	cw := csv.NewWriter(w)
	head := []string{"address", "amount"}
	if hasID {
		head = append(head, "external_id")
	}
	if hasTap {
		head = append(head, "tokens_per_second")
	}
	if hasDuration {
		head = append(head, "duration")
	}
	if hasRef {
		head = append(head, "ref")
	}
	if err := cw.Write(head); err != nil {
		return err
	}
	for _, r := range p.Rows {
		rec := []string{r.Address.Hex(), r.Amount.StringFixed(p.Decimals)}
		if hasID {
			id := ""
			if r.ExternalID != nil {
				id = r.ExternalID.String()
			}
			rec = append(rec, id)
		}
		if hasTap {
			rec = append(rec, r.TokensPerSecond.String())
		}
		if hasDuration {
			rec = append(rec, strconv.FormatUint(r.Duration, 10))
		}
		if hasRef {
			rec = append(rec, r.Ref)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
