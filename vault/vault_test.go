package vault

import (
	"bytes"
	"encoding/csv"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cosmo-local-credit/saleops/chain/chaintest"
	vaultabi "github.com/cosmo-local-credit/saleops/contracts/vault"
	"github.com/cosmo-local-credit/saleops/distribute"
	"github.com/cosmo-local-credit/saleops/export"
	"github.com/cosmo-local-credit/saleops/failure"
	"github.com/cosmo-local-credit/saleops/logging"
	"github.com/cosmo-local-credit/saleops/plan"
	"github.com/cosmo-local-credit/saleops/publish"
)

var (
	owner     = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	tokenAddr = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	freeze    = time.Date(2018, 1, 2, 0, 0, 0, 0, time.UTC)
)

const vaultArtifact = `{"abi": [
  {"type":"constructor","inputs":[
    {"name":"_owner","type":"address"},
    {"name":"_freezeEndsAt","type":"uint256"},
    {"name":"_token","type":"address"},
    {"name":"_tokensToBeAllocated","type":"uint256"}]}
], "bytecode": "0x6004"}`

type fixture struct {
	backend *chaintest.Backend
	token   *chaintest.Token
	vault   *chaintest.Vault
	ctrl    *Controller
}

// newFixture deploys a vault expecting 3000 tokens; the simulated chain
// builds it from the encoded constructor arguments.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{backend: chaintest.NewBackend(owner), token: chaintest.NewToken(owner, 0, big.NewInt(10_000))}
	f.backend.SetBalance(owner, big.NewInt(1e18))
	f.backend.Install(tokenAddr, f.token)
	f.backend.Deploy = func(_ *chaintest.Backend, _ common.Address, initCode []byte) (chaintest.Contract, error) {
		args := initCode[len(initCode)-128:]
		f.vault = chaintest.NewVault(
			common.BytesToAddress(args[:32]),
			new(big.Int).SetBytes(args[32:64]),
			f.token,
			common.BytesToAddress(args[64:96]),
			new(big.Int).SetBytes(args[96:]),
		)
		return f.vault, nil
	}

	art, err := publish.ParseArtifact(vaultabi.Name(), []byte(vaultArtifact))
	require.NoError(t, err)
	f.ctrl, err = Deploy(t.Context(), f.backend, art, DeployParams{
		Owner:               owner,
		FreezeEndsAt:        freeze,
		Token:               tokenAddr,
		TokensToBeAllocated: big.NewInt(3000),
	}, 1_000_000, nil, logging.Nop())
	require.NoError(t, err)
	require.Equal(t, freeze.Unix(), f.vault.FreezeEndsAt.Int64())
	return f
}

func (f *fixture) load(t *testing.T) {
	t.Helper()
	p := plan.New(0, []plan.Row{
		{Line: 2, Address: alice, Amount: decimal.NewFromInt(1000), Duration: 100},
		{Line: 3, Address: bob, Amount: decimal.NewFromInt(2000)},
	})
	res, err := f.ctrl.Load(t.Context(), p, distribute.Options{})
	require.NoError(t, err)
	require.Equal(t, 2, res.Confirmed)
}

func (f *fixture) fund(t *testing.T, amount int64) {
	t.Helper()
	require.NoError(t, f.token.Move(nil, tokenAddr, owner, f.ctrl.Address(), big.NewInt(amount)))
}

func TestLockWhenTotalsAgree(t *testing.T) {
	f := newFixture(t)
	f.load(t)
	f.fund(t, 3000)

	require.NoError(t, f.ctrl.Lock(t.Context()))
	state, err := f.ctrl.State(t.Context())
	require.NoError(t, err)
	require.Equal(t, vaultabi.StateHolding, state)
}

func TestLockRefusesExcessAndRecovers(t *testing.T) {
	f := newFixture(t)
	f.load(t)
	f.fund(t, 4000)
	sends := f.backend.Sends

	err := f.ctrl.Lock(t.Context())
	require.ErrorIs(t, err, ErrTotalsDisagree)
	require.Equal(t, failure.KindInvariant, failure.KindOf(err))
	require.ErrorContains(t, err, "tokensToBeAllocated=3000 tokensAllocatedTotal=3000 balance=4000")
	require.Equal(t, sends, f.backend.Sends)

	require.NoError(t, f.ctrl.Recover(t.Context()))
	totals, err := f.ctrl.Totals(t.Context())
	require.NoError(t, err)
	require.Equal(t, "3000", totals.Balance.String())
	require.Equal(t, int64(10_000-3000), f.token.BalanceOf(owner).Int64())
	state, err := f.ctrl.State(t.Context())
	require.NoError(t, err)
	require.Equal(t, vaultabi.StateLoading, state)

	require.NoError(t, f.ctrl.Lock(t.Context()))
}

func TestLockChecksResultingState(t *testing.T) {
	f := newFixture(t)
	f.load(t)
	f.fund(t, 3000)
	f.vault.IgnoreLock = true

	err := f.ctrl.Lock(t.Context())
	require.ErrorIs(t, err, ErrNotLocked)
	require.Equal(t, failure.KindChain, failure.KindOf(err))
	require.ErrorContains(t, err, "state is Loading after lock")
}

func TestLoadRejectsWrongTotal(t *testing.T) {
	f := newFixture(t)
	p := plan.New(0, []plan.Row{
		{Line: 2, Address: alice, Amount: decimal.NewFromInt(1000)},
		{Line: 3, Address: bob, Amount: decimal.NewFromInt(2001)},
	})
	_, err := f.ctrl.Load(t.Context(), p, distribute.Options{})
	require.ErrorIs(t, err, distribute.ErrVaultTotal)
	require.Zero(t, f.vault.AllocatedTotal.Sign())
}

func TestInspect(t *testing.T) {
	f := newFixture(t)
	f.load(t)
	f.fund(t, 3000)
	require.NoError(t, f.ctrl.Lock(t.Context()))

	cache, err := export.OpenCache(f.backend, "")
	require.NoError(t, err)
	allocs, err := f.ctrl.Inspect(t.Context(), export.NewScanner(f.backend, cache, logging.Nop()))
	require.NoError(t, err)
	require.Len(t, allocs, 2)

	require.Equal(t, alice, allocs[0].Investor)
	require.Equal(t, "10", allocs[0].TokensPerSecond.String())
	require.Equal(t, freeze.Add(100*time.Second), allocs[0].LastClaimAt)
	require.Equal(t, bob, allocs[1].Investor)
	require.Equal(t, freeze, allocs[1].LastClaimAt)

	var buf bytes.Buffer
	require.NoError(t, WriteInspection(&buf, allocs, 0))
	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, []string{alice.Hex(), "1000", recs[1][2], "1000", "0", "10", "2018-01-02T00:01:40Z"}, recs[1])
}
