package issuer

import (
	"github.com/lmittmann/w3"
)

const (
	name     = "Issuer"
	GasLimit = 200_000
)

// Issuer moves tokens from the allower (master) account to benefactors,
// once per address.
var (
	FuncIssue       = w3.MustNewFunc("issue(address,uint256)", "")
	FuncIssued      = w3.MustNewFunc("issued(address)", "bool")
	FuncIssuedCount = w3.MustNewFunc("issuedCount()", "uint256")
	FuncAllower     = w3.MustNewFunc("allower()", "address")
	FuncToken       = w3.MustNewFunc("token()", "address")
)

func Name() string { return name }
