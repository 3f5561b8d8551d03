package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func mustType(t *testing.T, name string) abi.Type {
	t.Helper()
	typ, err := abi.NewType(name, "", nil)
	require.NoError(t, err)
	return typ
}

func TestConvertArg(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	tests := []struct {
		name string
		typ  string
		in   any
		want any
	}{
		{"address from string", "address", addr.Hex(), addr},
		{"bool from string", "bool", "true", true},
		{"string from int", "string", 7, "7"},
		{"uint256 from decimal string", "uint256", "1000000000000000000", big.NewInt(1e18)},
		{"uint256 from hex", "uint256", "0xff", big.NewInt(255)},
		{"uint256 from integral float", "uint256", float64(42), big.NewInt(42)},
		{"uint8 sized", "uint8", 18, uint8(18)},
		{"int64 sized", "int64", -5, int64(-5)},
		{"uint256 from decimal", "uint256", decimal.RequireFromString("12"), big.NewInt(12)},
		{"bytes from hex", "bytes", "0x0102", []byte{1, 2}},
		{"address slice", "address[]", []any{addr.Hex()}, []common.Address{addr}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConvertArg(mustType(t, tt.typ), tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestConvertArgRejects(t *testing.T) {
	tests := []struct {
		name string
		typ  string
		in   any
	}{
		{"fractional float", "uint256", 1.5},
		{"negative uint", "uint256", -1},
		{"overflow", "uint8", 256},
		{"not an address", "address", "0x12"},
		{"bytes too long", "bytes2", "0x010203"},
		{"array length", "uint8[2]", []any{1}},
		{"bad hex", "bytes", "0xzz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ConvertArg(mustType(t, tt.typ), tt.in)
			require.ErrorIs(t, err, ErrArgType)
		})
	}
}

func TestPackArgs(t *testing.T) {
	args := abi.Arguments{
		{Name: "_to", Type: mustType(t, "address")},
		{Name: "_amount", Type: mustType(t, "uint256")},
	}
	data, err := PackArgs(args, []any{"0x1111111111111111111111111111111111111111", "5"})
	require.NoError(t, err)
	require.Len(t, data, 64)
	require.Equal(t, byte(5), data[63])

	_, err = PackArgs(args, []any{"0x1111111111111111111111111111111111111111"})
	require.ErrorIs(t, err, ErrArgCount)

	_, err = PackArgs(args, []any{"nope", "5"})
	require.ErrorContains(t, err, "argument _to")
}

func TestFixedBytesArePadded(t *testing.T) {
	got, err := ConvertArg(mustType(t, "bytes4"), "0x0102")
	require.NoError(t, err)
	require.Equal(t, [4]byte{1, 2, 0, 0}, got)
	require.Equal(t, []byte{1, 2, 0, 0}, Normalize(got))
}

func TestNormalize(t *testing.T) {
	require.Equal(t, big.NewInt(18), Normalize(uint8(18)))
	require.Equal(t, big.NewInt(-3), Normalize(int32(-3)))
	addr := common.HexToAddress("0x01")
	require.Equal(t, addr, Normalize(addr))
	require.Equal(t, "x", Normalize("x"))
}
