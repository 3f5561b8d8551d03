package plan

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/cosmo-local-credit/saleops/chain"
)

type ErrorKind string

const (
	NotAnAddress   ErrorKind = "NotAnAddress"
	NotChecksummed ErrorKind = "NotChecksummed"
	BadDecimal     ErrorKind = "BadDecimal"
	EncodingError  ErrorKind = "EncodingError"
)

type (
	// Sheet is one input file with its own column naming.
	Sheet struct {
		Name          string
		Reader        io.Reader
		AddressColumn string
		AmountColumn  string
	}

	NormalizeOptions struct {
		Decimals         int32
		AllowBadChecksum bool
	}

	// RowError is a rejected input row. Rejections are collected, never fatal.
	RowError struct {
		File    string
		Line    int
		Kind    ErrorKind
		Message string
	}

	// Entry aggregates every row sharing one lowercased address.
	Entry struct {
		Address   common.Address
		Amount    decimal.Decimal
		RawAmount decimal.Decimal
		Rows      int
		Sources   []string
		Spellings []string
	}

	Combined struct {
		Decimals   int32
		Entries    []*Entry
		Errors     []RowError
		RawSum     decimal.Decimal
		RoundedSum decimal.Decimal
		TotalRows  int
	}
)

func (e RowError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
}

// RoundHalfDown rounds to places decimals with ties going toward zero.
func RoundHalfDown(d decimal.Decimal, places int32) decimal.Decimal {
	trunc := d.Truncate(places)
	rem := d.Sub(trunc).Abs()
	half := decimal.New(5, -places-1)
	if rem.LessThanOrEqual(half) {
		return trunc
	}
	step := decimal.New(1, -places)
	if d.IsNegative() {
		return trunc.Sub(step)
	}
	return trunc.Add(step)
}

// Combine merges sheets into one set of entries keyed by lowercased address.
// Only unreadable files or missing columns fail; bad rows land in Errors.
func Combine(sheets []Sheet, opts NormalizeOptions) (*Combined, error) {
	c := &Combined{Decimals: opts.Decimals, RawSum: decimal.Zero, RoundedSum: decimal.Zero}
	index := map[string]*Entry{}
	for _, sh := range sheets {
		if err := c.merge(sh, opts, index); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Combined) merge(sh Sheet, opts NormalizeOptions, index map[string]*Entry) error {
	cr := newReader(sh.Reader)
	h, err := readHeader(cr, sh.Name, sh.AddressColumn, sh.AmountColumn)
	if err != nil {
		return err
	}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			c.reject(sh.Name, perr.Line, EncodingError, perr.Err.Error())
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", sh.Name, err)
		}
		line, _ := cr.FieldPos(0)

		rawAddr := h.get(rec, sh.AddressColumn)
		rawAmount := h.get(rec, sh.AmountColumn)
		if !utf8.ValidString(rawAddr) || !utf8.ValidString(rawAmount) {
			c.reject(sh.Name, line, EncodingError, "row is not valid UTF-8")
			continue
		}
		if rawAddr == "" {
			continue
		}
		spelling := rawAddr
		if !strings.HasPrefix(spelling, "0x") && !strings.HasPrefix(spelling, "0X") {
			spelling = "0x" + spelling
		}
		addr, err := chain.ParseAddress(spelling, opts.AllowBadChecksum)
		switch {
		case errors.Is(err, chain.ErrNotChecksummed):
			c.reject(sh.Name, line, NotChecksummed, fmt.Sprintf("address %s fails the mixed-case checksum", rawAddr))
			continue
		case err != nil:
			c.reject(sh.Name, line, NotAnAddress, fmt.Sprintf("%q is not an address", rawAddr))
			continue
		}
		amount, err := decimal.NewFromString(rawAmount)
		if err != nil {
			c.reject(sh.Name, line, BadDecimal, fmt.Sprintf("%q is not a decimal amount", rawAmount))
			continue
		}
		rounded := RoundHalfDown(amount, opts.Decimals)

		key := strings.ToLower(addr.Hex())
		e, ok := index[key]
		if !ok {
			e = &Entry{Address: addr, Amount: decimal.Zero, RawAmount: decimal.Zero}
			index[key] = e
			c.Entries = append(c.Entries, e)
		}
		e.Amount = e.Amount.Add(rounded)
		e.RawAmount = e.RawAmount.Add(amount)
		e.Rows++
		e.Sources = addUnique(e.Sources, sh.Name)
		e.Spellings = addUnique(e.Spellings, rawAddr)

		c.RawSum = c.RawSum.Add(amount)
		c.RoundedSum = c.RoundedSum.Add(rounded)
		c.TotalRows++
	}
}

func (c *Combined) reject(file string, line int, kind ErrorKind, msg string) {
	c.Errors = append(c.Errors, RowError{File: file, Line: line, Kind: kind, Message: msg})
}

func addUnique(set []string, v string) []string {
	i := sort.SearchStrings(set, v)
	if i < len(set) && set[i] == v {
		return set
	}
	set = append(set, "")
	copy(set[i+1:], set[i:])
	set[i] = v
	return set
}

func (c *Combined) UniqueKeys() int { return len(c.Entries) }

// ApproveUnits is the integer quantity to approve for an issuer covering the
// whole plan.
func (c *Combined) ApproveUnits() *big.Int {
	return c.RoundedSum.Shift(c.Decimals).BigInt()
}

// Plan converts the merged entries into a distribution plan in first-seen
// order.
func (c *Combined) Plan() *Plan {
	rows := make([]Row, len(c.Entries))
	for i, e := range c.Entries {
		rows[i] = Row{Line: i + 2, Address: e.Address, Amount: e.Amount}
	}
	return New(c.Decimals, rows)
}

// WriteCombinedCSV writes [address, amount, raw_amount, rows, sources,
// spellings]; set columns are joined with ';'.
func WriteCombinedCSV(w io.Writer, c *Combined) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"address", "amount", "raw_amount", "rows", "sources", "spellings"}); err != nil {
		return err
	}
	for _, e := range c.Entries {
		rec := []string{
			e.Address.Hex(),
			e.Amount.StringFixed(c.Decimals),
			e.RawAmount.String(),
			strconv.Itoa(e.Rows),
			strings.Join(e.Sources, ";"),
			strings.Join(e.Spellings, ";"),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteErrors reports rejected rows one per line as file:line: message.
func WriteErrors(w io.Writer, errs []RowError) error {
	for _, e := range errs {
		if _, err := fmt.Fprintln(w, e.Error()); err != nil {
			return err
		}
	}
	return nil
}
