package template

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cosmo-local-credit/saleops/config"
)

func contracts(t *testing.T) *config.ContractSet {
	t.Helper()
	var set config.ContractSet
	require.NoError(t, set.Add(&config.ContractSpec{Name: "token", ContractName: "CrowdsaleToken", Address: "0x00000000000000000000000000000000000000aa"}))
	require.NoError(t, set.Add(&config.ContractSpec{Name: "pricing", ContractName: "FlatPricing"}))
	return &set
}

func fixedNow() time.Time { return time.Unix(1_600_000_000, 0) }

func TestExpandTree(t *testing.T) {
	ctx := NewContext(contracts(t), fixedNow)
	in := map[string]any{
		"_token":  "{{ .contracts.token.address }}",
		"_start":  "{{ timestamp (datetime 2018 1 2 3 4) }}",
		"_now":    "{{ time }}",
		"_price":  `{{ to_wei "0.01" "ether" }}`,
		"_plain":  "no marker here",
		"_number": 12,
		"_tiers":  []any{"{{ to_wei 1 \"gwei\" }}", 7},
	}
	out, err := ctx.ExpandMap(in, "arguments")
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"_token":  "0x00000000000000000000000000000000000000aa",
		"_start":  "1514862240",
		"_now":    "1600000000",
		"_price":  "10000000000000000",
		"_plain":  "no marker here",
		"_number": 12,
		"_tiers":  []any{"1000000000", 7},
	}, out)
	require.Equal(t, "{{ .contracts.token.address }}", in["_token"])
}

func TestExpandUndeployedFails(t *testing.T) {
	ctx := NewContext(contracts(t), fixedNow)
	_, err := ctx.ExpandMap(map[string]any{
		"list": []any{"ok", "{{ .contracts.pricing.address }}"},
	}, "crowdsale.arguments")
	var terr *Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, "crowdsale.arguments.list[1]", terr.Path)
	require.ErrorContains(t, err, "address")

	_, err = ctx.ExpandString("{{ .contracts.missing.address }}")
	require.Error(t, err)
}

func TestSetExposesValues(t *testing.T) {
	ctx := NewContext(nil, fixedNow)
	ctx.Set("deployer", "0x00000000000000000000000000000000000000dd")
	s, err := ctx.ExpandString("owner={{ .deployer }}")
	require.NoError(t, err)
	require.Equal(t, "owner=0x00000000000000000000000000000000000000dd", s)
}

func TestToWei(t *testing.T) {
	wei, err := ToWei(1.5, "ether")
	require.NoError(t, err)
	require.Equal(t, "1500000000000000000", wei.String())

	_, err = ToWei("0.5", "wei")
	require.ErrorContains(t, err, "whole number")

	_, err = ToWei(1, "shannon")
	require.ErrorIs(t, err, ErrUnitUnknown)
}

func TestDatetimeArity(t *testing.T) {
	_, err := Datetime(2018, 1)
	require.Error(t, err)
	d, err := Datetime(2018, 1, 2)
	require.NoError(t, err)
	require.Equal(t, int64(1514851200), d.Unix())
}
