package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleDocument = `
ropsten:
  chain: ropsten
  verify_on_etherscan: true
  unlock_deploy_address: false
  contracts:
    team_multisig:
      contract_name: MultiSigWallet
      contract_file: MultiSigWallet.sol
      address: "0x00000000000000000000000000000000000000aa"
    token:
      contract_name: CrowdsaleToken
      contract_file: CrowdsaleToken.sol
      arguments:
        _name: Example
        _symbol: EXM
        _initialSupply: 0
        _decimals: 8
        _mintable: true
    pricing_strategy:
      contract_name: FlatPricing
      contract_file: FlatPricing.sol
      arguments:
        _oneTokenInWei: "{{ to_wei 1 \"ether\" }}"
  post_actions: |
    call token.setTransferAgent(team_multisig, true)
  verify_actions: |
    assert token.released() == false
mainnet:
  chain: mainnet
  contracts:
    token:
      contract_name: CrowdsaleToken
`

func TestParseKeepsOrder(t *testing.T) {
	doc, err := Parse([]byte(sampleDocument))
	require.NoError(t, err)
	require.Len(t, doc.Environments, 2)
	require.Equal(t, "ropsten", doc.Environments[0].Name)

	env, err := doc.Environment("ropsten")
	require.NoError(t, err)
	require.True(t, env.VerifyOnEtherscan)

	var names []string
	for _, spec := range env.Contracts.All() {
		names = append(names, spec.Name)
	}
	require.Equal(t, []string{"team_multisig", "token", "pricing_strategy"}, names)

	token, ok := env.Contracts.Get("token")
	require.True(t, ok)
	require.False(t, token.Deployed())
	require.Equal(t, 8, token.Arguments["_decimals"])
	require.Contains(t, env.PostActions, "setTransferAgent")

	_, err = doc.Environment("kovan")
	require.ErrorIs(t, err, ErrUnknownEnvironment)
}

func TestEncodeRoundTrip(t *testing.T) {
	doc, err := Parse([]byte(sampleDocument))
	require.NoError(t, err)
	env, _ := doc.Environment("ropsten")
	token, _ := env.Contracts.Get("token")
	token.Address = "0x00000000000000000000000000000000000000bb"
	token.ConstructorArgs = "00ff"

	out, err := doc.Bytes()
	require.NoError(t, err)
	again, err := Parse(out)
	require.NoError(t, err)
	env2, _ := again.Environment("ropsten")
	require.Equal(t, env.Contracts.Len(), env2.Contracts.Len())
	for i, spec := range env.Contracts.All() {
		require.Equal(t, spec.Name, env2.Contracts.All()[i].Name)
	}
	token2, _ := env2.Contracts.Get("token")
	require.Equal(t, "0x00000000000000000000000000000000000000bb", token2.Address)
	require.Equal(t, "00ff", token2.ConstructorArgs)
	require.Equal(t, "mainnet", again.Environments[1].Name)
}

func TestValidateDeployPrefix(t *testing.T) {
	const doc = `
x:
  chain: x
  contracts:
    a:
      contract_name: A
    b:
      contract_name: B
      address: "0x00000000000000000000000000000000000000bb"
`
	_, err := Parse([]byte(doc))
	require.ErrorIs(t, err, ErrDeployOrder)
}

func TestValidateRejects(t *testing.T) {
	tests := map[string]string{
		"missing chain":    "x:\n  contracts:\n    a:\n      contract_name: A\n",
		"missing contract": "x:\n  chain: x\n  contracts:\n    a:\n      contract_file: A.sol\n",
		"bad address":      "x:\n  chain: x\n  contracts:\n    a:\n      contract_name: A\n      address: nope\n",
		"duplicate":        "x:\n  chain: x\n  contracts:\n    a:\n      contract_name: A\n    a:\n      contract_name: B\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sale.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleDocument), 0o600))
	doc, err := Load(path)
	require.NoError(t, err)
	require.Len(t, doc.Environments, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}
