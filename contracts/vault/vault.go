package vault

import (
	"github.com/lmittmann/w3"
)

const (
	name     = "TokenVault"
	GasLimit = 250_000
)

type State uint8

const (
	StateUnknown State = iota
	StateLoading
	StateHolding
	StateDistributing
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "Loading"
	case StateHolding:
		return "Holding"
	case StateDistributing:
		return "Distributing"
	default:
		return "Unknown"
	}
}

var (
	FuncSetInvestor          = w3.MustNewFunc("setInvestor(address,uint256,uint256)", "")
	FuncLock                 = w3.MustNewFunc("lock()", "")
	FuncRecoverFailedLock    = w3.MustNewFunc("recoverFailedLock()", "")
	FuncGetState             = w3.MustNewFunc("getState()", "uint8")
	FuncTokensToBeAllocated  = w3.MustNewFunc("tokensToBeAllocated()", "uint256")
	FuncTokensAllocatedTotal = w3.MustNewFunc("tokensAllocatedTotal()", "uint256")
	FuncGetBalance           = w3.MustNewFunc("getBalance()", "uint256")
	FuncBalances             = w3.MustNewFunc("balances(address)", "uint256")
	FuncClaimed              = w3.MustNewFunc("claimed(address)", "uint256")
	FuncTokensPerSecond      = w3.MustNewFunc("tokensPerSecond(address)", "uint256")
	FuncFreezeEndsAt         = w3.MustNewFunc("freezeEndsAt()", "uint256")
	FuncToken                = w3.MustNewFunc("token()", "address")

	EventAllocated = w3.MustNewEvent("Allocated(address investor,uint256 value)")
)

func Name() string { return name }
