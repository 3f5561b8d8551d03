// Package vault runs the token vault lifecycle: deploy, load investors,
// lock once the balance matches the allocation, and inspect claims.
package vault

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/cosmo-local-credit/saleops/chain"
	vaultabi "github.com/cosmo-local-credit/saleops/contracts/vault"
	"github.com/cosmo-local-credit/saleops/distribute"
	"github.com/cosmo-local-credit/saleops/export"
	"github.com/cosmo-local-credit/saleops/failure"
	"github.com/cosmo-local-credit/saleops/plan"
	"github.com/cosmo-local-credit/saleops/publish"
)

const component = "token-vault"

var (
	ErrTotalsDisagree = errors.New("vault totals disagree")
	ErrNotLocked      = errors.New("vault did not lock")
)

type (
	DeployParams struct {
		Owner               common.Address
		FreezeEndsAt        time.Time
		Token               common.Address
		TokensToBeAllocated *big.Int
	}

	// Totals are the three numbers that must agree before a lock.
	Totals struct {
		Expected  *big.Int
		Allocated *big.Int
		Balance   *big.Int
	}

	Controller struct {
		gw       chain.Gateway
		address  common.Address
		gasPrice *big.Int
		lggr     *zap.SugaredLogger
	}

	// Allocation is one investor as reported by inspect.
	Allocation struct {
		Investor        common.Address
		Allocated       *big.Int
		AllocatedAt     time.Time
		Balance         *big.Int
		Claimed         *big.Int
		TokensPerSecond *big.Int
		// LastClaimAt is when the whole balance becomes claimable.
		LastClaimAt time.Time
	}
)

func (t Totals) Equal() bool {
	return t.Expected.Cmp(t.Allocated) == 0 && t.Allocated.Cmp(t.Balance) == 0
}

func (t Totals) String() string {
	return fmt.Sprintf("tokensToBeAllocated=%s tokensAllocatedTotal=%s balance=%s", t.Expected, t.Allocated, t.Balance)
}

func New(gw chain.Gateway, address common.Address, gasPrice *big.Int, lggr *zap.SugaredLogger) *Controller {
	return &Controller{gw: gw, address: address, gasPrice: gasPrice, lggr: lggr}
}

// Deploy creates a vault from its compiled artifact.
func Deploy(ctx context.Context, gw chain.Gateway, art *publish.Artifact, params DeployParams, gasLimit uint64, gasPrice *big.Int, lggr *zap.SugaredLogger) (*Controller, error) {
	if params.TokensToBeAllocated == nil || params.TokensToBeAllocated.Sign() <= 0 {
		return nil, failure.Newf(failure.KindConfig, component, "deploy", "tokens to be allocated must be positive")
	}
	code, err := art.Link(nil)
	if err != nil {
		return nil, failure.New(failure.KindConfig, component, "deploy", err)
	}
	ctor, err := art.EncodeConstructor(map[string]any{
		"_owner":               params.Owner,
		"_freezeEndsAt":        big.NewInt(params.FreezeEndsAt.Unix()),
		"_token":               params.Token,
		"_tokensToBeAllocated": params.TokensToBeAllocated,
	})
	if err != nil {
		return nil, failure.New(failure.KindConfig, component, "deploy", err)
	}
	res, err := publish.NewDeployer(gw, gasLimit, gasPrice).Deploy(ctx, append(code, ctor...))
	if err != nil {
		return nil, failure.New(failure.KindChain, component, "deploy", err)
	}
	lggr.Infow("Vault deployed", "address", res.ContractAddress.Hex(), "tx", res.TxHash.Hex(), "freezeEndsAt", params.FreezeEndsAt.UTC(), "tokensToBeAllocated", params.TokensToBeAllocated)
	return New(gw, res.ContractAddress, gasPrice, lggr), nil
}

func (c *Controller) Address() common.Address { return c.address }

func (c *Controller) State(ctx context.Context) (vaultabi.State, error) {
	var state uint8
	if err := chain.View(ctx, c.gw, c.address, vaultabi.FuncGetState, nil, &state); err != nil {
		return vaultabi.StateUnknown, fmt.Errorf("read vault state: %w", err)
	}
	return vaultabi.State(state), nil
}

func (c *Controller) Totals(ctx context.Context) (Totals, error) {
	var (
		t   Totals
		err error
	)
	if t.Expected, err = chain.ViewBig(ctx, c.gw, c.address, vaultabi.FuncTokensToBeAllocated); err != nil {
		return t, fmt.Errorf("read tokensToBeAllocated: %w", err)
	}
	if t.Allocated, err = chain.ViewBig(ctx, c.gw, c.address, vaultabi.FuncTokensAllocatedTotal); err != nil {
		return t, fmt.Errorf("read tokensAllocatedTotal: %w", err)
	}
	if t.Balance, err = chain.ViewBig(ctx, c.gw, c.address, vaultabi.FuncGetBalance); err != nil {
		return t, fmt.Errorf("read balance: %w", err)
	}
	return t, nil
}

// Load sets every plan row as an investor through the batched driver.
func (c *Controller) Load(ctx context.Context, p *plan.Plan, opts distribute.Options) (*distribute.Result, error) {
	if opts.GasPrice == nil {
		opts.GasPrice = c.gasPrice
	}
	return distribute.NewDriver(c.gw, distribute.VaultLoadJob{Vault: c.address}, opts, c.lggr).Run(ctx, p)
}

// Lock freezes the vault. The expected total, the allocated total and the
// token balance must all be equal, otherwise nothing is sent.
func (c *Controller) Lock(ctx context.Context) error {
	key := c.address.Hex()
	totals, err := c.Totals(ctx)
	if err != nil {
		return failure.New(failure.KindChain, component, key, err)
	}
	if !totals.Equal() {
		return failure.New(failure.KindInvariant, component, key, fmt.Errorf("%w: %s", ErrTotalsDisagree, totals))
	}
	if _, err := chain.Transact(ctx, c.gw, c.address, vaultabi.FuncLock, vaultabi.GasLimit, c.gasPrice); err != nil {
		return failure.New(failure.KindChain, component, key, fmt.Errorf("lock: %w", err))
	}
	state, err := c.State(ctx)
	if err != nil {
		return failure.New(failure.KindChain, component, key, err)
	}
	if state != vaultabi.StateHolding {
		return failure.New(failure.KindChain, component, key, fmt.Errorf("%w: state is %s after lock", ErrNotLocked, state))
	}
	c.lggr.Infow("Vault locked", "vault", key, "state", state.String(), "totals", totals.String())
	return nil
}

// Recover returns tokens sent to the vault beyond its expected total to the
// owner. The vault stays loading.
func (c *Controller) Recover(ctx context.Context) error {
	key := c.address.Hex()
	before, err := c.Totals(ctx)
	if err != nil {
		return failure.New(failure.KindChain, component, key, err)
	}
	if _, err := chain.Transact(ctx, c.gw, c.address, vaultabi.FuncRecoverFailedLock, vaultabi.GasLimit, c.gasPrice); err != nil {
		return failure.New(failure.KindChain, component, key, fmt.Errorf("recover failed lock: %w", err))
	}
	after, err := c.Totals(ctx)
	if err != nil {
		return failure.New(failure.KindChain, component, key, err)
	}
	c.lggr.Infow("Recovered excess tokens", "vault", key, "moved", new(big.Int).Sub(before.Balance, after.Balance), "balance", after.Balance)
	return nil
}

// Inspect reports every allocated investor with its claim schedule.
func (c *Controller) Inspect(ctx context.Context, scanner *export.Scanner) ([]Allocation, error) {
	freeze, err := chain.ViewBig(ctx, c.gw, c.address, vaultabi.FuncFreezeEndsAt)
	if err != nil {
		return nil, fmt.Errorf("read freezeEndsAt: %w", err)
	}
	var out []Allocation
	_, err = scanner.Scan(ctx, c.address, vaultabi.EventAllocated, func(ev export.Event) error {
		a := Allocation{Allocated: new(big.Int), AllocatedAt: ev.Time}
		if err := vaultabi.EventAllocated.DecodeArgs(&ev.Log, &a.Investor, a.Allocated); err != nil {
			return fmt.Errorf("decode Allocated in tx %s: %w", ev.Log.TxHash.Hex(), err)
		}
		if err := c.fill(ctx, &a, freeze); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

func (c *Controller) fill(ctx context.Context, a *Allocation, freeze *big.Int) error {
	var err error
	if a.Balance, err = chain.ViewBig(ctx, c.gw, c.address, vaultabi.FuncBalances, a.Investor); err != nil {
		return fmt.Errorf("read balance of %s: %w", a.Investor.Hex(), err)
	}
	if a.Claimed, err = chain.ViewBig(ctx, c.gw, c.address, vaultabi.FuncClaimed, a.Investor); err != nil {
		return fmt.Errorf("read claimed of %s: %w", a.Investor.Hex(), err)
	}
	if a.TokensPerSecond, err = chain.ViewBig(ctx, c.gw, c.address, vaultabi.FuncTokensPerSecond, a.Investor); err != nil {
		return fmt.Errorf("read tap of %s: %w", a.Investor.Hex(), err)
	}
	end := new(big.Int).Set(freeze)
	if a.TokensPerSecond.Sign() > 0 {
		// ceil(balance / tap)
		secs := new(big.Int).Add(a.Balance, a.TokensPerSecond)
		secs.Sub(secs, big.NewInt(1))
		secs.Div(secs, a.TokensPerSecond)
		end.Add(end, secs)
	}
	a.LastClaimAt = time.Unix(end.Int64(), 0).UTC()
	return nil
}

func WriteInspection(w io.Writer, allocs []Allocation, decimals int32) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"address", "allocated", "allocated_at", "balance", "claimed", "tokens_per_second", "last_claim_at"}); err != nil {
		return err
	}
	for _, a := range allocs {
		rec := []string{
			a.Investor.Hex(),
			plan.FromUnits(a.Allocated, decimals).String(),
			a.AllocatedAt.Format(time.RFC3339),
			plan.FromUnits(a.Balance, decimals).String(),
			plan.FromUnits(a.Claimed, decimals).String(),
			plan.FromUnits(a.TokensPerSecond, decimals).String(),
			a.LastClaimAt.Format(time.RFC3339),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
