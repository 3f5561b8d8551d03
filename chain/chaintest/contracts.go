package chaintest

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cosmo-local-credit/saleops/contracts/amltoken"
	"github.com/cosmo-local-credit/saleops/contracts/crowdsale"
	"github.com/cosmo-local-credit/saleops/contracts/issuer"
	"github.com/cosmo-local-credit/saleops/contracts/issuerextid"
	"github.com/cosmo-local-credit/saleops/contracts/token"
	"github.com/cosmo-local-credit/saleops/contracts/vault"
)

// Token is an ERC20 token; Owner may reclaim balances (AML).
type Token struct {
	Owner      common.Address
	Decimals   uint8
	Balances   map[common.Address]*big.Int
	Allowances map[common.Address]map[common.Address]*big.Int
	Supply     *big.Int
}

func NewToken(owner common.Address, decimals uint8, supply *big.Int) *Token {
	return &Token{
		Owner:      owner,
		Decimals:   decimals,
		Balances:   map[common.Address]*big.Int{owner: new(big.Int).Set(supply)},
		Allowances: map[common.Address]map[common.Address]*big.Int{},
		Supply:     new(big.Int).Set(supply),
	}
}

func (t *Token) BalanceOf(addr common.Address) *big.Int {
	if v, ok := t.Balances[addr]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	if m, ok := t.Allowances[owner]; ok {
		if v, ok := m[spender]; ok {
			return new(big.Int).Set(v)
		}
	}
	return new(big.Int)
}

func (t *Token) SetAllowance(owner, spender common.Address, value *big.Int) {
	if t.Allowances[owner] == nil {
		t.Allowances[owner] = map[common.Address]*big.Int{}
	}
	t.Allowances[owner][spender] = new(big.Int).Set(value)
}

func (t *Token) Mint(to common.Address, value *big.Int) {
	t.Balances[to] = new(big.Int).Add(t.BalanceOf(to), value)
	t.Supply = new(big.Int).Add(t.Supply, value)
}

// Move transfers without allowance checks, for use by other simulated contracts.
func (t *Token) Move(env *Env, tokenAddr, from, to common.Address, value *big.Int) error {
	if err := check(t.BalanceOf(from).Cmp(value) >= 0, "transfer amount exceeds balance"); err != nil {
		return err
	}
	t.Balances[from] = new(big.Int).Sub(t.BalanceOf(from), value)
	t.Balances[to] = new(big.Int).Add(t.BalanceOf(to), value)
	if env != nil {
		self := env.Self
		env.Self = tokenAddr
		err := env.Emit(token.EventTransfer, from, to, value)
		env.Self = self
		return err
	}
	return nil
}

func (t *Token) spend(env *Env, tokenAddr, owner, spender, to common.Address, value *big.Int) error {
	allowance := t.Allowance(owner, spender)
	if err := check(allowance.Cmp(value) >= 0, "transfer amount exceeds allowance"); err != nil {
		return err
	}
	if err := t.Move(env, tokenAddr, owner, to, value); err != nil {
		return err
	}
	t.SetAllowance(owner, spender, new(big.Int).Sub(allowance, value))
	return nil
}

func (t *Token) Call(env *Env, input []byte) ([]byte, error) {
	return dispatch(env, input, []Method{
		{token.FuncBalanceOf, func(_ *Env, a []any) ([]any, error) {
			return []any{t.BalanceOf(a[0].(common.Address))}, nil
		}},
		{token.FuncAllowance, func(_ *Env, a []any) ([]any, error) {
			return []any{t.Allowance(a[0].(common.Address), a[1].(common.Address))}, nil
		}},
		{token.FuncDecimals, func(*Env, []any) ([]any, error) { return []any{t.Decimals}, nil }},
		{token.FuncTotalSupply, func(*Env, []any) ([]any, error) { return []any{new(big.Int).Set(t.Supply)}, nil }},
		{token.FuncApprove, func(env *Env, a []any) ([]any, error) {
			if env.View {
				return []any{true}, nil
			}
			t.SetAllowance(env.From, a[0].(common.Address), a[1].(*big.Int))
			return []any{true}, env.Emit(token.EventApproval, env.From, a[0].(common.Address), a[1].(*big.Int))
		}},
		{token.FuncTransfer, func(env *Env, a []any) ([]any, error) {
			if env.View {
				return []any{true}, nil
			}
			return []any{true}, t.Move(env, env.Self, env.From, a[0].(common.Address), a[1].(*big.Int))
		}},
		{token.FuncTransferFrom, func(env *Env, a []any) ([]any, error) {
			if env.View {
				return []any{true}, nil
			}
			return []any{true}, t.spend(env, env.Self, a[0].(common.Address), env.From, a[1].(common.Address), a[2].(*big.Int))
		}},
		{amltoken.FuncTransferToOwner, func(env *Env, a []any) ([]any, error) {
			if env.View {
				return nil, nil
			}
			if err := check(env.From == t.Owner, "only owner"); err != nil {
				return nil, err
			}
			return nil, t.Move(env, env.Self, a[0].(common.Address), t.Owner, t.BalanceOf(a[0].(common.Address)))
		}},
	})
}

// Issuer transfers tokens from Allower to benefactors once per address.
type Issuer struct {
	Owner     common.Address
	Allower   common.Address
	Token     *Token
	TokenAddr common.Address
	Issued    map[common.Address]bool
	Count     *big.Int
}

func NewIssuer(owner, allower common.Address, tok *Token, tokenAddr common.Address) *Issuer {
	return &Issuer{Owner: owner, Allower: allower, Token: tok, TokenAddr: tokenAddr, Issued: map[common.Address]bool{}, Count: new(big.Int)}
}

func (is *Issuer) Call(env *Env, input []byte) ([]byte, error) {
	return dispatch(env, input, []Method{
		{issuer.FuncIssued, func(_ *Env, a []any) ([]any, error) { return []any{is.Issued[a[0].(common.Address)]}, nil }},
		{issuer.FuncIssuedCount, func(*Env, []any) ([]any, error) { return []any{new(big.Int).Set(is.Count)}, nil }},
		{issuer.FuncAllower, func(*Env, []any) ([]any, error) { return []any{is.Allower}, nil }},
		{issuer.FuncToken, func(*Env, []any) ([]any, error) { return []any{is.TokenAddr}, nil }},
		{issuer.FuncIssue, func(env *Env, a []any) ([]any, error) {
			if env.View {
				return nil, nil
			}
			to, amount := a[0].(common.Address), a[1].(*big.Int)
			if err := check(env.From == is.Owner, "only owner"); err != nil {
				return nil, err
			}
			if err := check(!is.Issued[to], "already issued"); err != nil {
				return nil, err
			}
			if err := is.Token.spend(env, is.TokenAddr, is.Allower, env.Self, to, amount); err != nil {
				return nil, err
			}
			is.Issued[to] = true
			is.Count.Add(is.Count, big.NewInt(1))
			return nil, nil
		}},
	})
}

// IssuerWithID keys issuance by an external id.
type IssuerWithID struct {
	Owner     common.Address
	Allower   common.Address
	Token     *Token
	TokenAddr common.Address
	Issued    map[string]bool
	Count     *big.Int
}

func NewIssuerWithID(owner, allower common.Address, tok *Token, tokenAddr common.Address) *IssuerWithID {
	return &IssuerWithID{Owner: owner, Allower: allower, Token: tok, TokenAddr: tokenAddr, Issued: map[string]bool{}, Count: new(big.Int)}
}

func (is *IssuerWithID) Call(env *Env, input []byte) ([]byte, error) {
	return dispatch(env, input, []Method{
		{issuerextid.FuncIssued, func(_ *Env, a []any) ([]any, error) { return []any{is.Issued[a[0].(*big.Int).String()]}, nil }},
		{issuerextid.FuncIssuedCount, func(*Env, []any) ([]any, error) { return []any{new(big.Int).Set(is.Count)}, nil }},
		{issuerextid.FuncAllower, func(*Env, []any) ([]any, error) { return []any{is.Allower}, nil }},
		{issuerextid.FuncToken, func(*Env, []any) ([]any, error) { return []any{is.TokenAddr}, nil }},
		{issuerextid.FuncIssue, func(env *Env, a []any) ([]any, error) {
			if env.View {
				return nil, nil
			}
			to, amount, id := a[0].(common.Address), a[1].(*big.Int), a[2].(*big.Int)
			if err := check(env.From == is.Owner, "only owner"); err != nil {
				return nil, err
			}
			if err := check(!is.Issued[id.String()], "already issued"); err != nil {
				return nil, err
			}
			if err := is.Token.spend(env, is.TokenAddr, is.Allower, env.Self, to, amount); err != nil {
				return nil, err
			}
			is.Issued[id.String()] = true
			is.Count.Add(is.Count, big.NewInt(1))
			return nil, nil
		}},
	})
}

// Crowdsale supports owner preallocation and records investments.
type Crowdsale struct {
	Owner     common.Address
	Token     *Token
	TokenAddr common.Address
	Invested  map[common.Address]*big.Int
	Tokens    map[common.Address]*big.Int
}

func NewCrowdsale(owner common.Address, tok *Token, tokenAddr common.Address) *Crowdsale {
	return &Crowdsale{Owner: owner, Token: tok, TokenAddr: tokenAddr, Invested: map[common.Address]*big.Int{}, Tokens: map[common.Address]*big.Int{}}
}

func valueOr0(m map[common.Address]*big.Int, k common.Address) *big.Int {
	if v, ok := m[k]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (c *Crowdsale) Call(env *Env, input []byte) ([]byte, error) {
	return dispatch(env, input, []Method{
		{crowdsale.FuncInvestedAmountOf, func(_ *Env, a []any) ([]any, error) { return []any{valueOr0(c.Invested, a[0].(common.Address))}, nil }},
		{crowdsale.FuncTokenAmountOf, func(_ *Env, a []any) ([]any, error) { return []any{valueOr0(c.Tokens, a[0].(common.Address))}, nil }},
		{crowdsale.FuncToken, func(*Env, []any) ([]any, error) { return []any{c.TokenAddr}, nil }},
		{crowdsale.FuncGetState, func(*Env, []any) ([]any, error) { return []any{uint8(3)}, nil }},
		{crowdsale.FuncPreallocate, func(env *Env, a []any) ([]any, error) {
			if env.View {
				return nil, nil
			}
			if err := check(env.From == c.Owner, "only owner"); err != nil {
				return nil, err
			}
			receiver, fullTokens, weiPrice := a[0].(common.Address), a[1].(*big.Int), a[2].(*big.Int)
			unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.Token.Decimals)), nil)
			tokenAmount := new(big.Int).Mul(fullTokens, unit)
			weiAmount := new(big.Int).Mul(fullTokens, weiPrice)
			c.Token.Mint(receiver, tokenAmount)
			c.Invested[receiver] = new(big.Int).Add(valueOr0(c.Invested, receiver), weiAmount)
			c.Tokens[receiver] = new(big.Int).Add(valueOr0(c.Tokens, receiver), tokenAmount)
			return nil, env.Emit(crowdsale.EventInvested, receiver, weiAmount, tokenAmount, new(big.Int))
		}},
	})
}

// Vault is a token vault: Loading -> (lock) -> Holding.
type Vault struct {
	Owner               common.Address
	Token               *Token
	TokenAddr           common.Address
	FreezeEndsAt        *big.Int
	TokensToBeAllocated *big.Int
	AllocatedTotal      *big.Int
	State               vault.State
	Balances            map[common.Address]*big.Int
	Claimed             map[common.Address]*big.Int
	Tap                 map[common.Address]*big.Int
	// IgnoreLock makes lock succeed without leaving Loading.
	IgnoreLock bool
}

func NewVault(owner common.Address, freezeEndsAt *big.Int, tok *Token, tokenAddr common.Address, toBeAllocated *big.Int) *Vault {
	return &Vault{
		Owner:               owner,
		Token:               tok,
		TokenAddr:           tokenAddr,
		FreezeEndsAt:        new(big.Int).Set(freezeEndsAt),
		TokensToBeAllocated: new(big.Int).Set(toBeAllocated),
		AllocatedTotal:      new(big.Int),
		State:               vault.StateLoading,
		Balances:            map[common.Address]*big.Int{},
		Claimed:             map[common.Address]*big.Int{},
		Tap:                 map[common.Address]*big.Int{},
	}
}

var errOnlyOwner = errors.New("only owner")

func (v *Vault) Call(env *Env, input []byte) ([]byte, error) {
	return dispatch(env, input, []Method{
		{vault.FuncGetState, func(*Env, []any) ([]any, error) { return []any{uint8(v.State)}, nil }},
		{vault.FuncTokensToBeAllocated, func(*Env, []any) ([]any, error) { return []any{new(big.Int).Set(v.TokensToBeAllocated)}, nil }},
		{vault.FuncTokensAllocatedTotal, func(*Env, []any) ([]any, error) { return []any{new(big.Int).Set(v.AllocatedTotal)}, nil }},
		{vault.FuncGetBalance, func(env *Env, _ []any) ([]any, error) { return []any{v.Token.BalanceOf(env.Self)}, nil }},
		{vault.FuncBalances, func(_ *Env, a []any) ([]any, error) { return []any{valueOr0(v.Balances, a[0].(common.Address))}, nil }},
		{vault.FuncClaimed, func(_ *Env, a []any) ([]any, error) { return []any{valueOr0(v.Claimed, a[0].(common.Address))}, nil }},
		{vault.FuncTokensPerSecond, func(_ *Env, a []any) ([]any, error) { return []any{valueOr0(v.Tap, a[0].(common.Address))}, nil }},
		{vault.FuncFreezeEndsAt, func(*Env, []any) ([]any, error) { return []any{new(big.Int).Set(v.FreezeEndsAt)}, nil }},
		{vault.FuncToken, func(*Env, []any) ([]any, error) { return []any{v.TokenAddr}, nil }},
		{vault.FuncSetInvestor, func(env *Env, a []any) ([]any, error) {
			if env.View {
				return nil, nil
			}
			investor, amount, tap := a[0].(common.Address), a[1].(*big.Int), a[2].(*big.Int)
			if env.From != v.Owner {
				return nil, errOnlyOwner
			}
			if err := check(v.State == vault.StateLoading, "vault is not loading"); err != nil {
				return nil, err
			}
			if err := check(amount.Sign() > 0, "zero amount"); err != nil {
				return nil, err
			}
			if err := check(valueOr0(v.Balances, investor).Sign() == 0, "investor already set"); err != nil {
				return nil, err
			}
			total := new(big.Int).Add(v.AllocatedTotal, amount)
			if err := check(total.Cmp(v.TokensToBeAllocated) <= 0, "allocation exceeds tokensToBeAllocated"); err != nil {
				return nil, err
			}
			v.Balances[investor] = new(big.Int).Set(amount)
			v.Tap[investor] = new(big.Int).Set(tap)
			v.AllocatedTotal = total
			return nil, env.Emit(vault.EventAllocated, investor, amount)
		}},
		{vault.FuncLock, func(env *Env, _ []any) ([]any, error) {
			if env.View {
				return nil, nil
			}
			if env.From != v.Owner {
				return nil, errOnlyOwner
			}
			if err := check(v.AllocatedTotal.Cmp(v.TokensToBeAllocated) == 0, "allocation mismatch"); err != nil {
				return nil, err
			}
			if err := check(v.Token.BalanceOf(env.Self).Cmp(v.TokensToBeAllocated) == 0, "balance mismatch"); err != nil {
				return nil, err
			}
			if !v.IgnoreLock {
				v.State = vault.StateHolding
			}
			return nil, nil
		}},
		{vault.FuncRecoverFailedLock, func(env *Env, _ []any) ([]any, error) {
			if env.View {
				return nil, nil
			}
			if env.From != v.Owner {
				return nil, errOnlyOwner
			}
			if err := check(v.State == vault.StateLoading, "vault is not loading"); err != nil {
				return nil, err
			}
			excess := new(big.Int).Sub(v.Token.BalanceOf(env.Self), v.TokensToBeAllocated)
			if excess.Sign() <= 0 {
				return nil, nil
			}
			return nil, v.Token.Move(env, v.TokenAddr, env.Self, v.Owner, excess)
		}},
	})
}
