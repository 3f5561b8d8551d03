package issuerextid

import (
	"github.com/lmittmann/w3"
)

const (
	name     = "IssuerWithId"
	GasLimit = 200_000
)

var (
	FuncIssue       = w3.MustNewFunc("issue(address,uint256,uint256)", "")
	FuncIssued      = w3.MustNewFunc("issued(uint256)", "bool")
	FuncIssuedCount = w3.MustNewFunc("issuedCount()", "uint256")
	FuncAllower     = w3.MustNewFunc("allower()", "address")
	FuncToken       = w3.MustNewFunc("token()", "address")
)

func Name() string { return name }
