package plan

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const abcAddress = "0xAbCF99eee3692f09E2E8c662248B483B7Ffc050f"

func sheet(name, body string) Sheet {
	return Sheet{Name: name, Reader: strings.NewReader(body), AddressColumn: "address", AmountColumn: "amount"}
}

func TestRoundHalfDown(t *testing.T) {
	tests := []struct {
		in     string
		places int32
		want   string
	}{
		{"1.234567891", 8, "1.23456789"},
		{"2.000000009", 8, "2.00000001"},
		{"0.125", 2, "0.12"},
		{"0.1251", 2, "0.13"},
		{"-0.125", 2, "-0.12"},
		{"-0.126", 2, "-0.13"},
		{"7", 0, "7"},
		{"7.5", 0, "7"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := RoundHalfDown(decimal.RequireFromString(tt.in), tt.places)
			require.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestCombineTwoSheets(t *testing.T) {
	a := sheet("a.csv", "address,amount\n"+abcAddress+",1.234567891\n")
	b := sheet("b.csv", "address,amount\n"+strings.ToLower(abcAddress)+",2.000000009\n")

	c, err := Combine([]Sheet{a, b}, NormalizeOptions{Decimals: 8})
	require.NoError(t, err)
	require.Empty(t, c.Errors)
	require.Equal(t, 1, c.UniqueKeys())
	require.Equal(t, 2, c.TotalRows)
	require.True(t, c.RoundedSum.Equal(decimal.RequireFromString("3.23456790")), "rounded %s", c.RoundedSum)
	require.True(t, c.RawSum.Equal(decimal.RequireFromString("3.234567900")), "raw %s", c.RawSum)
	require.Equal(t, "323456790", c.ApproveUnits().String())

	e := c.Entries[0]
	require.Equal(t, abcAddress, e.Address.Hex())
	require.Equal(t, []string{"a.csv", "b.csv"}, e.Sources)
	require.Len(t, e.Spellings, 2)
	require.Equal(t, 2, e.Rows)
}

func TestCombineSameFileTwiceDoubles(t *testing.T) {
	body := "address,amount\n" + abcAddress + ",1.5\n"
	c, err := Combine([]Sheet{sheet("a.csv", body), sheet("a.csv", body)}, NormalizeOptions{Decimals: 8})
	require.NoError(t, err)
	require.Equal(t, 1, c.UniqueKeys())
	require.True(t, c.Entries[0].Amount.Equal(decimal.NewFromInt(3)))
	require.Equal(t, []string{"a.csv"}, c.Entries[0].Sources)
	require.Equal(t, 2, c.Entries[0].Rows)
}

func TestCombineCollectsRowErrors(t *testing.T) {
	body := strings.Join([]string{
		"name,address,amount",
		"ok," + abcAddress + ",1",
		"bad-hex,0x1234,1",
		"bad-sum,0xABCF99eee3692f09E2E8c662248B483B7Ffc050f,1",
		"bad-amount," + strings.ToLower(abcAddress) + ",1.2.3",
		"empty,,5",
		"no-prefix," + strings.ToLower(abcAddress)[2:] + ",2",
	}, "\n")
	c, err := Combine([]Sheet{sheet("in.csv", body)}, NormalizeOptions{Decimals: 2})
	require.NoError(t, err)

	require.Len(t, c.Errors, 3)
	require.Equal(t, NotAnAddress, c.Errors[0].Kind)
	require.Equal(t, 3, c.Errors[0].Line)
	require.True(t, strings.HasPrefix(c.Errors[0].Error(), "in.csv:3: "))
	require.Equal(t, NotChecksummed, c.Errors[1].Kind)
	require.Equal(t, BadDecimal, c.Errors[2].Kind)

	require.Equal(t, 2, c.TotalRows)
	require.True(t, c.RoundedSum.Equal(decimal.NewFromInt(3)))
}

func TestCombineAllowBadChecksum(t *testing.T) {
	body := "address,amount\n0xABCF99eee3692f09E2E8c662248B483B7Ffc050f,1\n"
	c, err := Combine([]Sheet{sheet("in.csv", body)}, NormalizeOptions{Decimals: 2, AllowBadChecksum: true})
	require.NoError(t, err)
	require.Empty(t, c.Errors)
	require.Equal(t, abcAddress, c.Entries[0].Address.Hex())
}

func TestCombineMissingColumn(t *testing.T) {
	_, err := Combine([]Sheet{sheet("in.csv", "wallet,amount\n")}, NormalizeOptions{Decimals: 2})
	require.ErrorIs(t, err, ErrMissingColumn)
}

func TestWriteCombinedCSV(t *testing.T) {
	a := sheet("a.csv", "address,amount\n"+abcAddress+",1.234567891\n")
	b := sheet("b.csv", "address,amount\n"+strings.ToLower(abcAddress)+",2.000000009\n")
	c, err := Combine([]Sheet{a, b}, NormalizeOptions{Decimals: 8})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCombinedCSV(&buf, c))
	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"address", "amount", "raw_amount", "rows", "sources", "spellings"},
		{abcAddress, "3.23456790", "3.2345679", "2", "a.csv;b.csv", abcAddress + ";" + strings.ToLower(abcAddress)},
	}, recs)

	p := c.Plan()
	require.Len(t, p.Rows, 1)
	require.True(t, p.Total.Equal(c.RoundedSum))
}
