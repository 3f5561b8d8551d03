package main

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/cosmo-local-credit/saleops/chain"
	"github.com/cosmo-local-credit/saleops/config"
	vaultabi "github.com/cosmo-local-credit/saleops/contracts/vault"
	"github.com/cosmo-local-credit/saleops/export"
	"github.com/cosmo-local-credit/saleops/failure"
	"github.com/cosmo-local-credit/saleops/plan"
	"github.com/cosmo-local-credit/saleops/publish"
	"github.com/cosmo-local-credit/saleops/vault"
)

func vaultCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token-vault",
		Short: "Deploy, load, lock and inspect a token vault",
	}
	cmd.AddCommand(
		vaultDeployCmd(a),
		vaultLoadCmd(a),
		vaultLockCmd(a),
		vaultRecoverCmd(a),
		vaultInspectCmd(a),
	)
	return cmd
}

// vaultTarget holds the flags every vault subcommand operating on an
// existing vault shares.
type vaultTarget struct {
	address  string
	from     string
	gasPrice string
}

func (t *vaultTarget) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.address, "address", "", "vault address")
	cmd.Flags().StringVar(&t.from, "from", "", "node-managed owner account when no private key is configured")
	cmd.Flags().StringVar(&t.gasPrice, "gas-price", "", "legacy gas price in wei (default EIP-1559 fees)")
}

func (t *vaultTarget) open(a *app) (*vault.Controller, chain.Gateway, config.Network, error) {
	addr, err := parseAddress(t.address)
	if err != nil {
		return nil, nil, config.Network{}, failure.New(failure.KindConfig, "token-vault", "address", err)
	}
	price, err := parseWei(t.gasPrice)
	if err != nil {
		return nil, nil, config.Network{}, failure.New(failure.KindConfig, "token-vault", "gas-price", err)
	}
	gw, n, err := a.dial("", t.from)
	if err != nil {
		return nil, nil, n, err
	}
	return vault.New(gw, addr, price, a.lggr.Named("vault")), gw, n, nil
}

func vaultDeployCmd(a *app) *cobra.Command {
	var (
		owner     string
		token     string
		freeze    string
		total     string
		decimals  int32
		from      string
		gasPrice  string
		buildDir  string
		artifactN string
	)
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a token vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tokenAddr, err := parseAddress(token)
			if err != nil {
				return failure.New(failure.KindConfig, "token-vault", "token", err)
			}
			freezeAt, err := time.Parse(time.RFC3339, freeze)
			if err != nil {
				return failure.New(failure.KindConfig, "token-vault", "freeze-ends-at", err)
			}
			amount, err := decimal.NewFromString(total)
			if err != nil {
				return failure.New(failure.KindConfig, "token-vault", "tokens-to-be-allocated", err)
			}
			units, err := plan.ToUnits(amount, decimals)
			if err != nil {
				return failure.New(failure.KindConfig, "token-vault", "tokens-to-be-allocated", err)
			}
			price, err := parseWei(gasPrice)
			if err != nil {
				return failure.New(failure.KindConfig, "token-vault", "gas-price", err)
			}
			if buildDir == "" {
				buildDir = a.settings.Deploy.BuildDir
			}
			art, err := publish.NewDir(buildDir).Artifact(artifactN)
			if err != nil {
				return failure.New(failure.KindIO, "token-vault", artifactN, err)
			}

			gw, _, err := a.dial("", from)
			if err != nil {
				return err
			}
			ownerAddr := gw.Account()
			if owner != "" {
				if ownerAddr, err = parseAddress(owner); err != nil {
					return failure.New(failure.KindConfig, "token-vault", "owner", err)
				}
			}
			c, err := vault.Deploy(cmd.Context(), gw, art, vault.DeployParams{
				Owner:               ownerAddr,
				FreezeEndsAt:        freezeAt,
				Token:               tokenAddr,
				TokensToBeAllocated: units,
			}, a.settings.Deploy.GasLimit, price, a.lggr.Named("vault"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.Address().Hex())
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&owner, "owner", "", "vault owner (default the sending account)")
	fl.StringVar(&token, "token", "", "token address")
	fl.StringVar(&freeze, "freeze-ends-at", "", "RFC3339 time when claims open")
	fl.StringVar(&total, "tokens-to-be-allocated", "", "total the vault will hold, in whole tokens")
	fl.Int32Var(&decimals, "decimals", int32(envInt64("SALEOPS_TOKEN_DECIMALS", 18)), "token decimals")
	fl.StringVar(&from, "from", "", "node-managed deploy account when no private key is configured")
	fl.StringVar(&gasPrice, "gas-price", "", "legacy gas price in wei (default EIP-1559 fees)")
	fl.StringVar(&buildDir, "build-dir", "", "compiled artifacts directory (default from settings)")
	fl.StringVar(&artifactN, "artifact", vaultabi.Name(), "artifact name of the vault contract")
	return cmd
}

func vaultLoadCmd(a *app) *cobra.Command {
	var f planFlags
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Set every CSV row as a vault investor",
		Long:  "The CSV must sum to the vault's tokensToBeAllocated. Rows already holding a balance are skipped.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := f.readPlan("vault-load")
			if err != nil {
				return err
			}
			if err := f.dumpPlan("vault-load", p); err != nil {
				return err
			}
			t := vaultTarget{address: f.contract, from: f.from, gasPrice: f.gasPrice}
			c, _, n, err := t.open(a)
			if err != nil {
				return err
			}
			opts, err := f.options(a, "vault-load", n)
			if err != nil {
				return err
			}
			res, err := c.Load(cmd.Context(), p, opts)
			if err != nil {
				return err
			}
			totals, err := c.Totals(cmd.Context())
			if err != nil {
				return failure.New(failure.KindChain, "token-vault", t.address, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "vault-load: %d submitted, %d skipped; %s\n", res.Submitted, len(res.Skipped), totals)
			return nil
		},
	}
	f.register(cmd, true, vaultabi.Name())
	cmd.Flags().StringVar(&f.cols.TokensPerSecond, "tap-column", "", "tokens per second column")
	cmd.Flags().StringVar(&f.cols.Duration, "duration-column", "", "vesting seconds column, used when a row has no tap")
	return cmd
}

func vaultLockCmd(a *app) *cobra.Command {
	var t vaultTarget
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Lock a loaded vault once its totals and balance agree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, _, err := t.open(a)
			if err != nil {
				return err
			}
			if err := c.Lock(cmd.Context()); err != nil {
				return err
			}
			state, err := c.State(cmd.Context())
			if err != nil {
				return failure.New(failure.KindChain, "token-vault", t.address, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", c.Address().Hex(), state)
			return nil
		},
	}
	t.register(cmd)
	return cmd
}

func vaultRecoverCmd(a *app) *cobra.Command {
	var t vaultTarget
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Return tokens sent to a vault beyond its expected total to the owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, _, err := t.open(a)
			if err != nil {
				return err
			}
			if err := c.Recover(cmd.Context()); err != nil {
				return err
			}
			totals, err := c.Totals(cmd.Context())
			if err != nil {
				return failure.New(failure.KindChain, "token-vault", t.address, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), totals)
			return nil
		},
	}
	t.register(cmd)
	return cmd
}

func vaultInspectCmd(a *app) *cobra.Command {
	var (
		address string
		ex      exportFlags
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Write the investors of a vault with their claim schedule as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := parseAddress(address)
			if err != nil {
				return failure.New(failure.KindConfig, "token-vault", "address", err)
			}
			gw, _, err := a.dialReader()
			if err != nil {
				return err
			}
			c := vault.New(gw, addr, nil, a.lggr.Named("vault"))
			return ex.run(cmd, a, gw, func(s *export.Scanner, out io.Writer) error {
				allocs, err := c.Inspect(cmd.Context(), s)
				if err != nil {
					return failure.New(failure.KindChain, "token-vault", address, err)
				}
				return vault.WriteInspection(out, allocs, ex.decimals)
			})
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "vault address")
	ex.register(cmd, "vault-inspect")
	return cmd
}
