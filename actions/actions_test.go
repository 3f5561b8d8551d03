package actions

import (
	"bytes"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/cosmo-local-credit/saleops/chain/chaintest"
	"github.com/cosmo-local-credit/saleops/logging"
)

const tokenABI = `[
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
 {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	deployer  = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	tokenAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	issuer    = common.HexToAddress("0x00000000000000000000000000000000000000a2")
)

type fixture struct {
	backend *chaintest.Backend
	token   *chaintest.Token
	runner  *Runner
	out     *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(tokenABI))
	require.NoError(t, err)

	b := chaintest.NewBackend(deployer)
	b.SetBalance(deployer, big.NewInt(1e18))
	tok := chaintest.NewToken(deployer, 8, big.NewInt(1_000_000))
	b.Install(tokenAddr, tok)

	out := &bytes.Buffer{}
	r := NewRunner(b, []Handle{
		{Name: "token", Address: tokenAddr, ABI: &parsed},
		{Name: "issuer", Address: issuer},
	}, Options{Out: out, Now: func() time.Time { return time.Unix(1_700_000_000, 0) }}, logging.Nop())
	return &fixture{backend: b, token: tok, runner: r, out: out}
}

func TestRunWiringScript(t *testing.T) {
	f := newFixture(t)
	script := `
# approve the issuer for the whole supply
let supply = token.balanceOf(deployer)
call token.approve(issuer, supply)
assert token.allowance(deployer, issuer) == 1000000
assert token.allowance(deployer, issuer) >= supply
assert token.decimals() == 8
assert issuer.address == "0x00000000000000000000000000000000000000a2"
call token.transfer(issuer, 250)
assert token.balanceOf(issuer) == 250
print "issuer balance", token.balanceOf(issuer), issuer
let start = timestamp(2018, 1, 2)
assert start < time()
assert to_wei(1.5, "ether") == 1500000000000000000
`
	require.NoError(t, f.runner.Run(t.Context(), script))
	require.Equal(t, 2, f.backend.Sends)
	require.Equal(t, "250", f.token.BalanceOf(issuer).String())
	require.Equal(t, "issuer balance 250 0x00000000000000000000000000000000000000A2\n", f.out.String())

	supply, ok := f.runner.Var("supply")
	require.True(t, ok)
	require.Equal(t, "1000000", supply.(*big.Int).String())
}

func TestRunStopsAtFailingLine(t *testing.T) {
	f := newFixture(t)
	script := "call token.approve(issuer, 5)\n\nassert token.allowance(deployer, issuer) == 6\ncall token.transfer(issuer, 1)\n"
	err := f.runner.Run(t.Context(), script)

	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	require.Equal(t, 3, aerr.Line)
	require.Equal(t, "assert token.allowance(deployer, issuer) == 6", aerr.Text)
	require.ErrorIs(t, err, ErrAssertion)
	require.Equal(t, 1, f.backend.Sends)
}

func TestRunRevertedCallFails(t *testing.T) {
	f := newFixture(t)
	err := f.runner.Run(t.Context(), "call token.transfer(issuer, 99999999)")
	require.ErrorContains(t, err, "line 1")
	require.ErrorContains(t, err, "reverted")
}

func TestVerifyRejectsCalls(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.runner.Verify(t.Context(), "assert token.decimals() == 8"))

	err := f.runner.Verify(t.Context(), "assert token.decimals() == 8\ncall token.approve(issuer, 1)")
	require.ErrorIs(t, err, ErrReadOnly)
	require.Zero(t, f.backend.Sends)
}

func TestParseErrorsNameTheLine(t *testing.T) {
	tests := map[string]string{
		"unknown action": "explode token",
		"call helper":    "call to_wei(1, \"ether\")",
		"trailing":       "let x = 1 2",
		"unclosed":       "assert token.decimals(",
		"missing name":   "let = 1",
	}
	for name, line := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse("# header\n" + line)
			var aerr *Error
			require.ErrorAs(t, err, &aerr)
			require.Equal(t, 2, aerr.Line)
			require.ErrorIs(t, err, ErrSyntax)
		})
	}
}

func TestUnknownNames(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.runner.Run(t.Context(), "print nobody"), ErrUnknownName)
	require.ErrorIs(t, f.runner.Run(t.Context(), "assert token.mint() == 1"), ErrUnknownFunc)
	require.ErrorIs(t, f.runner.Run(t.Context(), "assert issuer.owner() == 1"), ErrNoABI)
}

func TestRunRejectsNonContractCallee(t *testing.T) {
	tests := map[string]string{
		"literal callee": `print "x"(1)`,
		"call result":    "assert token.balanceOf(deployer)(1) == 0",
	}
	for name, line := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			err := f.runner.Run(t.Context(), "let a = 1\n"+line)
			var aerr *Error
			require.ErrorAs(t, err, &aerr)
			require.Equal(t, 2, aerr.Line)
			require.Equal(t, line, aerr.Text)
			require.ErrorIs(t, err, ErrNotAContract)
			require.Zero(t, f.backend.Sends)
		})
	}
}
