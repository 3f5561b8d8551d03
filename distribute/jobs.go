package distribute

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cosmo-local-credit/saleops/chain"
	"github.com/cosmo-local-credit/saleops/contracts/amltoken"
	"github.com/cosmo-local-credit/saleops/contracts/crowdsale"
	"github.com/cosmo-local-credit/saleops/contracts/issuer"
	"github.com/cosmo-local-credit/saleops/contracts/issuerextid"
	"github.com/cosmo-local-credit/saleops/contracts/token"
	"github.com/cosmo-local-credit/saleops/contracts/vault"
	"github.com/cosmo-local-credit/saleops/plan"
)

var (
	ErrRowRejected        = errors.New("row rejected")
	ErrAlreadyApplied     = errors.New("row already applied")
	ErrChainRevert        = errors.New("transaction reverted")
	ErrAllowanceExhausted = errors.New("allowance does not cover the plan")
	ErrInsufficientFunds  = errors.New("balance does not cover the plan")
	ErrVaultTotal         = errors.New("plan total does not match the vault allocation")
	ErrVaultState         = errors.New("vault is not loading")
)

// Job adapts the driver to one contract. Build must not touch the chain.
type Job interface {
	Name() string
	// Key is the idempotency key rows are deduplicated and settled by.
	Key(row plan.Row) string
	// Applied queries the contract for rows settled by an earlier run.
	Applied(ctx context.Context, gw chain.Gateway, row plan.Row) (bool, error)
	Build(row plan.Row, decimals int32) (chain.Tx, error)
	// Preflight checks funding before anything is sent. full is the whole
	// plan, pending the rows that still need a transaction.
	Preflight(ctx context.Context, gw chain.Gateway, full *plan.Plan, pending []plan.Row) error
}

// settlesOnSubmit is implemented by jobs without an on-chain membership
// check; their rows are recorded as soon as the transaction is sent.
type settlesOnSubmit interface {
	SettleOnSubmit() bool
}

func addressKey(row plan.Row) string { return strings.ToLower(row.Address.Hex()) }

func rejectf(row plan.Row, format string, args ...any) error {
	return fmt.Errorf("%w: line %d %s: %s", ErrRowRejected, row.Line, row.Address.Hex(), fmt.Sprintf(format, args...))
}

func units(row plan.Row, decimals int32) (*big.Int, error) {
	u, err := row.Units(decimals)
	if err != nil {
		return nil, rejectf(row, "%v", err)
	}
	if u.Sign() <= 0 {
		return nil, rejectf(row, "amount must be positive")
	}
	return u, nil
}

func sumUnits(rows []plan.Row, decimals int32) (*big.Int, error) {
	total := new(big.Int)
	for _, r := range rows {
		u, err := units(r, decimals)
		if err != nil {
			return nil, err
		}
		total.Add(total, u)
	}
	return total, nil
}

func call(to common.Address, gasLimit uint64, data []byte, err error) (chain.Tx, error) {
	if err != nil {
		return chain.Tx{}, err
	}
	return chain.Tx{To: &to, Data: data, GasLimit: gasLimit}, nil
}

// checkAllowance verifies the master account let spender move at least the
// pending amount.
func checkAllowance(ctx context.Context, gw chain.Gateway, tokenAddr, master, spender common.Address, need *big.Int) error {
	allowance, err := chain.ViewBig(ctx, gw, tokenAddr, token.FuncAllowance, master, spender)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	if allowance.Cmp(need) < 0 {
		return fmt.Errorf("%w: allowance(%s, %s) is %s, need %s", ErrAllowanceExhausted, master.Hex(), spender.Hex(), allowance, need)
	}
	return nil
}

// IssuerJob issues tokens once per address from the issuer's allower.
type IssuerJob struct {
	Issuer common.Address
}

func (IssuerJob) Name() string            { return "issuer" }
func (IssuerJob) Key(row plan.Row) string { return addressKey(row) }

func (j IssuerJob) Applied(ctx context.Context, gw chain.Gateway, row plan.Row) (bool, error) {
	var issued bool
	err := chain.View(ctx, gw, j.Issuer, issuer.FuncIssued, []any{row.Address}, &issued)
	return issued, err
}

func (j IssuerJob) Build(row plan.Row, decimals int32) (chain.Tx, error) {
	u, err := units(row, decimals)
	if err != nil {
		return chain.Tx{}, err
	}
	data, err := issuer.FuncIssue.EncodeArgs(row.Address, u)
	return call(j.Issuer, issuer.GasLimit, data, err)
}

func (j IssuerJob) Preflight(ctx context.Context, gw chain.Gateway, full *plan.Plan, pending []plan.Row) error {
	var allower, tokenAddr common.Address
	if err := chain.View(ctx, gw, j.Issuer, issuer.FuncAllower, nil, &allower); err != nil {
		return fmt.Errorf("read allower: %w", err)
	}
	if err := chain.View(ctx, gw, j.Issuer, issuer.FuncToken, nil, &tokenAddr); err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	need, err := sumUnits(pending, full.Decimals)
	if err != nil {
		return err
	}
	return checkAllowance(ctx, gw, tokenAddr, allower, j.Issuer, need)
}

// IssuerExtIDJob issues tokens keyed by an external id so the same address
// may appear on several rows.
type IssuerExtIDJob struct {
	Issuer common.Address
}

func (IssuerExtIDJob) Name() string { return "issuer-ext-id" }

func (IssuerExtIDJob) Key(row plan.Row) string {
	if row.ExternalID == nil {
		return ""
	}
	return row.ExternalID.String()
}

func (j IssuerExtIDJob) Applied(ctx context.Context, gw chain.Gateway, row plan.Row) (bool, error) {
	if row.ExternalID == nil {
		return false, nil
	}
	var issued bool
	err := chain.View(ctx, gw, j.Issuer, issuerextid.FuncIssued, []any{row.ExternalID}, &issued)
	return issued, err
}

func (j IssuerExtIDJob) Build(row plan.Row, decimals int32) (chain.Tx, error) {
	if row.ExternalID == nil || row.ExternalID.Sign() <= 0 {
		return chain.Tx{}, rejectf(row, "missing external id")
	}
	u, err := units(row, decimals)
	if err != nil {
		return chain.Tx{}, err
	}
	data, err := issuerextid.FuncIssue.EncodeArgs(row.Address, u, row.ExternalID)
	return call(j.Issuer, issuerextid.GasLimit, data, err)
}

func (j IssuerExtIDJob) Preflight(ctx context.Context, gw chain.Gateway, full *plan.Plan, pending []plan.Row) error {
	var allower, tokenAddr common.Address
	if err := chain.View(ctx, gw, j.Issuer, issuerextid.FuncAllower, nil, &allower); err != nil {
		return fmt.Errorf("read allower: %w", err)
	}
	if err := chain.View(ctx, gw, j.Issuer, issuerextid.FuncToken, nil, &tokenAddr); err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	need, err := sumUnits(pending, full.Decimals)
	if err != nil {
		return err
	}
	return checkAllowance(ctx, gw, tokenAddr, allower, j.Issuer, need)
}

// CrowdsaleJob preallocates whole tokens to investors at a fixed wei price
// per token.
type CrowdsaleJob struct {
	Crowdsale common.Address
	WeiPrice  *big.Int
}

func (CrowdsaleJob) Name() string            { return "preallocate" }
func (CrowdsaleJob) Key(row plan.Row) string { return addressKey(row) }

func (j CrowdsaleJob) Applied(ctx context.Context, gw chain.Gateway, row plan.Row) (bool, error) {
	amount, err := chain.ViewBig(ctx, gw, j.Crowdsale, crowdsale.FuncTokenAmountOf, row.Address)
	if err != nil {
		return false, err
	}
	return amount.Sign() > 0, nil
}

func (j CrowdsaleJob) Build(row plan.Row, _ int32) (chain.Tx, error) {
	fullTokens, err := units(row, 0)
	if err != nil {
		return chain.Tx{}, err
	}
	price := j.WeiPrice
	if price == nil {
		price = new(big.Int)
	}
	data, err := crowdsale.FuncPreallocate.EncodeArgs(row.Address, fullTokens, price)
	return call(j.Crowdsale, crowdsale.GasLimit, data, err)
}

func (CrowdsaleJob) Preflight(context.Context, chain.Gateway, *plan.Plan, []plan.Row) error {
	return nil
}

// VaultLoadJob allocates vault balances with a per-second tap.
type VaultLoadJob struct {
	Vault common.Address
}

func (VaultLoadJob) Name() string            { return "vault-load" }
func (VaultLoadJob) Key(row plan.Row) string { return addressKey(row) }

func (j VaultLoadJob) Applied(ctx context.Context, gw chain.Gateway, row plan.Row) (bool, error) {
	balance, err := chain.ViewBig(ctx, gw, j.Vault, vault.FuncBalances, row.Address)
	if err != nil {
		return false, err
	}
	return balance.Sign() > 0, nil
}

func (j VaultLoadJob) Build(row plan.Row, decimals int32) (chain.Tx, error) {
	u, err := units(row, decimals)
	if err != nil {
		return chain.Tx{}, err
	}
	tap, err := row.TapUnits(decimals)
	if err != nil {
		return chain.Tx{}, rejectf(row, "%v", err)
	}
	data, err := vault.FuncSetInvestor.EncodeArgs(row.Address, u, tap)
	return call(j.Vault, vault.GasLimit, data, err)
}

// Preflight requires the whole plan to match the vault's expected total
// exactly, so a partial load can never lock.
func (j VaultLoadJob) Preflight(ctx context.Context, gw chain.Gateway, full *plan.Plan, _ []plan.Row) error {
	var state uint8
	if err := chain.View(ctx, gw, j.Vault, vault.FuncGetState, nil, &state); err != nil {
		return fmt.Errorf("read vault state: %w", err)
	}
	if vault.State(state) != vault.StateLoading {
		return fmt.Errorf("%w: state is %s", ErrVaultState, vault.State(state))
	}
	expected, err := chain.ViewBig(ctx, gw, j.Vault, vault.FuncTokensToBeAllocated)
	if err != nil {
		return fmt.Errorf("read tokensToBeAllocated: %w", err)
	}
	total, err := sumUnits(full.Rows, full.Decimals)
	if err != nil {
		return err
	}
	if total.Cmp(expected) != 0 {
		return fmt.Errorf("%w: plan %s, tokensToBeAllocated %s", ErrVaultTotal, total, expected)
	}
	return nil
}

// RefundJob pays ETH from the sending account. Rows are keyed by Ref when
// the plan carries one (e.g. an email), by address otherwise.
type RefundJob struct{}

func (RefundJob) Name() string         { return "refund" }
func (RefundJob) SettleOnSubmit() bool { return true }

func (RefundJob) Key(row plan.Row) string {
	if row.Ref != "" {
		return row.Ref
	}
	return addressKey(row)
}

func (RefundJob) Applied(context.Context, chain.Gateway, plan.Row) (bool, error) {
	return false, nil
}

func (RefundJob) Build(row plan.Row, decimals int32) (chain.Tx, error) {
	wei, err := units(row, decimals)
	if err != nil {
		return chain.Tx{}, err
	}
	to := row.Address
	return chain.Tx{To: &to, Value: wei, GasLimit: 21_000}, nil
}

func (RefundJob) Preflight(ctx context.Context, gw chain.Gateway, full *plan.Plan, pending []plan.Row) error {
	balance, err := gw.Balance(ctx, gw.Account())
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	need, err := sumUnits(pending, full.Decimals)
	if err != nil {
		return err
	}
	if balance.Cmp(need) < 0 {
		return fmt.Errorf("%w: %s holds %s wei, need %s", ErrInsufficientFunds, gw.Account().Hex(), balance, need)
	}
	return nil
}

// AMLReclaimJob moves the whole balance of each listed account back to the
// token owner. Amounts are informational.
type AMLReclaimJob struct {
	Token common.Address
}

func (AMLReclaimJob) Name() string            { return "aml-reclaim" }
func (AMLReclaimJob) Key(row plan.Row) string { return addressKey(row) }

func (j AMLReclaimJob) Applied(ctx context.Context, gw chain.Gateway, row plan.Row) (bool, error) {
	balance, err := chain.ViewBig(ctx, gw, j.Token, token.FuncBalanceOf, row.Address)
	if err != nil {
		return false, err
	}
	return balance.Sign() == 0, nil
}

func (j AMLReclaimJob) Build(row plan.Row, _ int32) (chain.Tx, error) {
	data, err := amltoken.FuncTransferToOwner.EncodeArgs(row.Address)
	return call(j.Token, amltoken.GasLimit, data, err)
}

func (AMLReclaimJob) Preflight(context.Context, chain.Gateway, *plan.Plan, []plan.Row) error {
	return nil
}
