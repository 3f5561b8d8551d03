package chain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// RPC methods w3 has no module for.

type sendTransactionCall struct {
	from   common.Address
	tx     Tx
	result *common.Hash
}

func (c *sendTransactionCall) CreateRequest() (rpc.BatchElem, error) {
	args := map[string]any{
		"from": c.from,
		"gas":  hexutil.Uint64(c.tx.GasLimit),
		"data": hexutil.Bytes(c.tx.Data),
	}
	if c.tx.To != nil {
		args["to"] = *c.tx.To
	}
	if c.tx.Value != nil {
		args["value"] = (*hexutil.Big)(c.tx.Value)
	}
	if c.tx.GasPrice != nil {
		args["gasPrice"] = (*hexutil.Big)(c.tx.GasPrice)
	}
	return rpc.BatchElem{
		Method: "eth_sendTransaction",
		Args:   []any{args},
		Result: c.result,
	}, nil
}

func (c *sendTransactionCall) HandleResponse(elem rpc.BatchElem) error {
	return elem.Error
}

type unlockAccountCall struct {
	addr     common.Address
	password string
	duration uint64
	result   *bool
}

func (c *unlockAccountCall) CreateRequest() (rpc.BatchElem, error) {
	return rpc.BatchElem{
		Method: "personal_unlockAccount",
		Args:   []any{c.addr, c.password, c.duration},
		Result: c.result,
	}, nil
}

func (c *unlockAccountCall) HandleResponse(elem rpc.BatchElem) error {
	return elem.Error
}
