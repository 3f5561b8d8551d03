package crowdsale

import (
	"github.com/lmittmann/w3"
)

const (
	name     = "Crowdsale"
	GasLimit = 350_000
)

var (
	FuncPreallocate      = w3.MustNewFunc("preallocate(address,uint256,uint256)", "")
	FuncInvestedAmountOf = w3.MustNewFunc("investedAmountOf(address)", "uint256")
	FuncTokenAmountOf    = w3.MustNewFunc("tokenAmountOf(address)", "uint256")
	FuncToken            = w3.MustNewFunc("token()", "address")
	FuncGetState         = w3.MustNewFunc("getState()", "uint8")

	EventInvested = w3.MustNewEvent("Invested(address investor,uint256 weiAmount,uint256 tokenAmount,uint128 customerId)")
)

func Name() string { return name }
