package publish

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/cosmo-local-credit/saleops/chain/chaintest"
	"github.com/cosmo-local-credit/saleops/config"
	"github.com/cosmo-local-credit/saleops/failure"
	"github.com/cosmo-local-credit/saleops/flatten"
	"github.com/cosmo-local-credit/saleops/logging"
	"github.com/cosmo-local-credit/saleops/verify"
)

var deployer = common.HexToAddress("0x00000000000000000000000000000000000000d0")

var testArtifacts = map[string]string{
	"SafeMathLib": `{"abi": [], "bytecode": "0x6003"}`,
	"CrowdsaleToken": `{"abi": [
	  {"type":"constructor","inputs":[{"name":"_name","type":"string"},{"name":"_symbol","type":"string"},{"name":"_initialSupply","type":"uint256"},{"name":"_decimals","type":"uint8"}]},
	  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
	], "bytecode": "0x600173__SafeMathLib___________________________00"}`,
	"Issuer": `{"abi": [
	  {"type":"constructor","inputs":[{"name":"_owner","type":"address"},{"name":"_allower","type":"address"},{"name":"_token","type":"address"}]}
	], "bytecode": "0x6002"}`,
}

const saleDocument = `
testnet:
  chain: testnet
  verify_on_etherscan: true
  unlock_deploy_address: true
  contracts:
    safe_math_lib:
      contract_name: SafeMathLib
      contract_file: SafeMathLib.sol
    token:
      contract_name: CrowdsaleToken
      contract_file: CrowdsaleToken.sol
      arguments:
        _name: Example
        _symbol: EXM
        _initialSupply: 1000000
        _decimals: 8
    issuer:
      contract_name: Issuer
      contract_file: Issuer.sol
      arguments:
        _owner: "{{ .deployer }}"
        _allower: "{{ .deployer }}"
        _token: "{{ .contracts.token.address }}"
  post_actions: |
    # let the issuer spend the supply
    call token.approve(issuer, 1000)
  verify_actions: |
    assert token.allowance(deployer, issuer) == 1000
    assert token.decimals() == 8
`

type fakeVerifier struct {
	requests []verify.Request
	fail     map[string]bool
}

func (f *fakeVerifier) Verify(_ context.Context, req verify.Request) (string, error) {
	f.requests = append(f.requests, req)
	if f.fail[req.ContractName] {
		return "", errors.New("explorer unavailable")
	}
	return "https://explorer/address/" + req.Address.Hex() + "#code", nil
}

type fixture struct {
	dir      string
	backend  *chaintest.Backend
	verifier *fakeVerifier
	report   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	for name, body := range testArtifacts {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), []byte(body), 0o600))
	}
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(src, 0o750))
	for _, name := range []string{"SafeMathLib", "CrowdsaleToken", "Issuer"} {
		body := "pragma solidity ^0.4.18;\ncontract " + name + " {}\n"
		require.NoError(t, os.WriteFile(filepath.Join(src, name+".sol"), []byte(body), 0o600))
	}

	b := chaintest.NewBackend(deployer)
	b.SetBalance(deployer, big.NewInt(1e18))
	b.Deploy = func(_ *chaintest.Backend, from common.Address, initCode []byte) (chaintest.Contract, error) {
		if bytes.HasPrefix(initCode, []byte{0x60, 0x01}) {
			return chaintest.NewToken(from, 8, big.NewInt(1_000_000)), nil
		}
		return &chaintest.Stub{}, nil
	}
	return &fixture{dir: dir, backend: b, verifier: &fakeVerifier{fail: map[string]bool{}}, report: filepath.Join(dir, "sale.deployed.yaml")}
}

func (f *fixture) orchestrator(out *bytes.Buffer) *Orchestrator {
	opts := Options{
		GasLimit:   3_000_000,
		ReportPath: f.report,
		FlattenDir: filepath.Join(f.dir, "flat"),
		Compiler:   "v0.4.18+commit.9cf6e910",
		Now:        func() time.Time { return time.Unix(1_600_000_000, 0) },
	}
	if out != nil {
		opts.Out = out
	}
	return NewOrchestrator(f.backend, NewDir(f.dir), f.verifier, flatten.New(filepath.Join(f.dir, "src"), nil), opts, logging.Nop())
}

func parseSale(t *testing.T) (*config.Document, *config.Environment) {
	t.Helper()
	doc, err := config.Parse([]byte(saleDocument))
	require.NoError(t, err)
	env, err := doc.Environment("testnet")
	require.NoError(t, err)
	return doc, env
}

func addresses(env *config.Environment) map[string]string {
	out := map[string]string{}
	for _, spec := range env.Contracts.All() {
		out[spec.Name] = spec.Address
	}
	return out
}

func TestRunDeploysInOrder(t *testing.T) {
	f := newFixture(t)
	doc, env := parseSale(t)

	res, err := f.orchestrator(nil).Run(t.Context(), doc, env)
	require.NoError(t, err)
	require.Equal(t, []string{"safe_math_lib", "token", "issuer"}, res.Deployed)
	require.Empty(t, res.VerifyErrors)
	require.Equal(t, 4, f.backend.Sends)
	require.Equal(t, 3, f.backend.Unlocks)

	lib, _ := env.Contracts.Get("safe_math_lib")
	token, _ := env.Contracts.Get("token")
	issuer, _ := env.Contracts.Get("issuer")

	require.Equal(t, map[string]string{"SafeMathLib": lib.Address}, token.Libraries)
	require.Contains(t, hex.EncodeToString(f.backend.Sent[1].Data), hex.EncodeToString(common.HexToAddress(lib.Address).Bytes()))
	require.Equal(t, token.Address, issuer.Arguments["_token"])
	require.Equal(t, deployer.Hex(), issuer.Arguments["_owner"])
	require.Len(t, issuer.ConstructorArgs, 3*64)
	require.Equal(t, "https://explorer/address/"+issuer.Address+"#code", issuer.EtherscanLink)

	require.Len(t, f.verifier.requests, 3)
	require.Equal(t, "pragma solidity ^0.4.18;\ncontract Issuer {}\n", f.verifier.requests[2].Source)
	_, err = os.Stat(filepath.Join(f.dir, "flat", "issuer.sol"))
	require.NoError(t, err)

	report, err := config.Load(f.report)
	require.NoError(t, err)
	reported, err := report.Environment("testnet")
	require.NoError(t, err)
	require.Equal(t, addresses(env), addresses(reported))
}

func TestRunResumesAfterInterruption(t *testing.T) {
	clean := newFixture(t)
	doc, env := parseSale(t)
	_, err := clean.orchestrator(nil).Run(t.Context(), doc, env)
	require.NoError(t, err)
	want := addresses(env)

	f := newFixture(t)
	doc, env = parseSale(t)
	f.backend.FailSendAfter = 2
	_, err = f.orchestrator(nil).Run(t.Context(), doc, env)
	require.Error(t, err)
	require.Equal(t, failure.KindChain, failure.KindOf(err))
	require.ErrorContains(t, err, "deploy issuer")

	partial, err := config.Load(f.report)
	require.NoError(t, err)
	penv, err := partial.Environment("testnet")
	require.NoError(t, err)
	issuer, _ := penv.Contracts.Get("issuer")
	require.False(t, issuer.Deployed())

	f.backend.FailSendAfter = -1
	res, err := f.orchestrator(nil).Run(t.Context(), partial, penv)
	require.NoError(t, err)
	require.Equal(t, []string{"safe_math_lib", "token"}, res.Skipped)
	require.Equal(t, []string{"issuer"}, res.Deployed)
	require.Equal(t, want, addresses(penv))
}

func TestRunVerificationFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.verifier.fail["CrowdsaleToken"] = true
	doc, env := parseSale(t)

	res, err := f.orchestrator(nil).Run(t.Context(), doc, env)
	require.NoError(t, err)
	require.Len(t, res.Deployed, 3)
	require.Contains(t, res.VerifyErrors, "token")
	token, _ := env.Contracts.Get("token")
	require.Empty(t, token.EtherscanLink)
}

func TestRunUndeployedReferenceFails(t *testing.T) {
	f := newFixture(t)
	doc, env := parseSale(t)
	token, _ := env.Contracts.Get("token")
	token.Arguments["_name"] = "{{ .contracts.issuer.address }}"

	_, err := f.orchestrator(nil).Run(t.Context(), doc, env)
	require.Equal(t, failure.KindConfig, failure.KindOf(err))
	require.ErrorContains(t, err, "deploy token")
	require.ErrorContains(t, err, "token.arguments._name")
	require.Equal(t, 1, f.backend.Sends)
}

func TestRunVerifyActionFailure(t *testing.T) {
	f := newFixture(t)
	doc, env := parseSale(t)
	env.VerifyActions = "assert token.decimals() == 18"

	_, err := f.orchestrator(nil).Run(t.Context(), doc, env)
	require.Equal(t, failure.KindInvariant, failure.KindOf(err))
	require.ErrorContains(t, err, "line 1")
}
