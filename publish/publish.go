// Package publish deploys the contracts of a sale environment in declaration
// order, wires them with post actions and writes the deployment report.
package publish

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cosmo-local-credit/saleops/chain"
)

var ErrNoCode = errors.New("no code at deployed address")

type (
	DeployResult struct {
		TxHash          common.Hash
		ContractAddress common.Address
		GasUsed         uint64
	}

	Deployer struct {
		gw       chain.Gateway
		gasLimit uint64
		gasPrice *big.Int
		timeout  time.Duration
	}
)

func NewDeployer(gw chain.Gateway, gasLimit uint64, gasPrice *big.Int) *Deployer {
	return &Deployer{gw: gw, gasLimit: gasLimit, gasPrice: gasPrice, timeout: chain.DefaultReceiptTimeout}
}

func (d *Deployer) Address() common.Address {
	return d.gw.Account()
}

// Deploy sends a contract creation and waits for it to be mined.
func (d *Deployer) Deploy(ctx context.Context, initCode []byte) (DeployResult, error) {
	receipt, err := chain.SendAndWait(ctx, d.gw, chain.Tx{Data: initCode, GasLimit: d.gasLimit, GasPrice: d.gasPrice}, d.timeout)
	if err != nil {
		return DeployResult{}, fmt.Errorf("deploy: %w", err)
	}
	code, err := d.gw.Code(ctx, receipt.ContractAddress)
	if err != nil {
		return DeployResult{}, fmt.Errorf("get code: %w", err)
	}
	if len(code) == 0 {
		return DeployResult{}, fmt.Errorf("%w: %s", ErrNoCode, receipt.ContractAddress.Hex())
	}
	return DeployResult{
		TxHash:          receipt.TxHash,
		ContractAddress: receipt.ContractAddress,
		GasUsed:         receipt.GasUsed,
	}, nil
}
