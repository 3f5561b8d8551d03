package token

import (
	"github.com/lmittmann/w3"
)

const (
	name     = "CrowdsaleToken"
	GasLimit = 120_000
)

var (
	FuncBalanceOf    = w3.MustNewFunc("balanceOf(address)", "uint256")
	FuncAllowance    = w3.MustNewFunc("allowance(address,address)", "uint256")
	FuncApprove      = w3.MustNewFunc("approve(address,uint256)", "bool")
	FuncTransfer     = w3.MustNewFunc("transfer(address,uint256)", "bool")
	FuncTransferFrom = w3.MustNewFunc("transferFrom(address,address,uint256)", "bool")
	FuncDecimals     = w3.MustNewFunc("decimals()", "uint8")
	FuncTotalSupply  = w3.MustNewFunc("totalSupply()", "uint256")

	EventTransfer = w3.MustNewEvent("Transfer(address indexed from,address indexed to,uint256 value)")
	EventApproval = w3.MustNewEvent("Approval(address indexed owner,address indexed spender,uint256 value)")
)

func Name() string { return name }
