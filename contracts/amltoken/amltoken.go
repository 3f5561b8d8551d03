package amltoken

import (
	"github.com/lmittmann/w3"
)

const (
	name     = "AMLToken"
	GasLimit = 150_000
)

// FuncTransferToOwner reclaims the whole balance of an account back to the
// token owner.
var FuncTransferToOwner = w3.MustNewFunc("transferToOwner(address)", "")

func Name() string { return name }
