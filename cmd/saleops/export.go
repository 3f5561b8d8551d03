package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cosmo-local-credit/saleops/chain"
	"github.com/cosmo-local-credit/saleops/contracts/crowdsale"
	"github.com/cosmo-local-credit/saleops/contracts/token"
	"github.com/cosmo-local-credit/saleops/export"
	"github.com/cosmo-local-credit/saleops/failure"
)

type exportFlags struct {
	name      string
	contract  string
	out       string
	cache     string
	fromBlock uint64
	toBlock   uint64
	window    uint64
	decimals  int32
}

func (f *exportFlags) register(cmd *cobra.Command, name string) {
	f.name = name
	fl := cmd.Flags()
	fl.StringVar(&f.out, "out", "", "output CSV (default stdout)")
	fl.StringVar(&f.cache, "cache", "block-timestamps.json", "block timestamp cache file")
	fl.Uint64Var(&f.fromBlock, "from-block", 0, "first block to scan")
	fl.Uint64Var(&f.toBlock, "to-block", 0, "last block to scan (default head)")
	fl.Uint64Var(&f.window, "window", 0, "blocks per log query (default gateway window)")
	fl.Int32Var(&f.decimals, "decimals", int32(envInt64("SALEOPS_TOKEN_DECIMALS", 18)), "token decimals")
}

func (f *exportFlags) registerContract(cmd *cobra.Command, usage string) {
	cmd.Flags().StringVar(&f.contract, "contract", "", usage)
}

// run opens the timestamp cache and the output, then hands a configured
// scanner to write. The output file is only created once scanning starts.
func (f *exportFlags) run(cmd *cobra.Command, a *app, gw chain.Gateway, write func(*export.Scanner, io.Writer) error) error {
	cache, err := export.OpenCache(gw, f.cache)
	if err != nil {
		return failure.New(failure.KindIO, f.name, f.cache, err)
	}
	s := export.NewScanner(gw, cache, a.lggr.Named("export"))
	s.FromBlock, s.ToBlock, s.Window = f.fromBlock, f.toBlock, f.window

	out := cmd.OutOrStdout()
	if f.out != "" {
		file, err := os.Create(f.out)
		if err != nil {
			return failure.New(failure.KindIO, f.name, f.out, err)
		}
		defer file.Close()
		out = file
	}
	if err := write(s, out); err != nil {
		return err
	}
	a.lggr.Infow("Export complete", "export", f.name, "out", f.out, "cachedBlocks", cache.Len())
	return nil
}

func (f *exportFlags) requireContract() error {
	if f.contract == "" {
		return failure.Newf(failure.KindConfig, f.name, "contract", "--contract is required")
	}
	return nil
}

func readerExport(a *app, f *exportFlags, write func(cmd *cobra.Command, s *export.Scanner, out io.Writer) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		if err := f.requireContract(); err != nil {
			return err
		}
		gw, _, err := a.dialReader()
		if err != nil {
			return err
		}
		return f.run(cmd, a, gw, func(s *export.Scanner, out io.Writer) error {
			return write(cmd, s, out)
		})
	}
}

func investorDataCmd(a *app) *cobra.Command {
	var f exportFlags
	cmd := &cobra.Command{
		Use:   "extract-investor-data",
		Short: "Write one CSV row per crowdsale investor, aggregating their payments",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = readerExport(a, &f, func(cmd *cobra.Command, s *export.Scanner, out io.Writer) error {
		sale, err := parseAddress(f.contract)
		if err != nil {
			return failure.New(failure.KindConfig, f.name, "contract", err)
		}
		invs, err := export.Investments(cmd.Context(), s, sale)
		if err != nil {
			return failure.New(failure.KindChain, f.name, f.contract, err)
		}
		investors := export.Investors(invs)
		if err := export.WriteInvestors(out, investors, f.decimals); err != nil {
			return failure.New(failure.KindIO, f.name, f.out, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d investors, %d payments\n", len(investors), len(invs))
		return nil
	})
	f.register(cmd, "extract-investor-data")
	f.registerContract(cmd, crowdsale.Name()+" address")
	return cmd
}

func rawInvestmentCmd(a *app) *cobra.Command {
	var f exportFlags
	cmd := &cobra.Command{
		Use:   "extract-raw-investment-data",
		Short: "Write one CSV row per crowdsale Invested event",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = readerExport(a, &f, func(cmd *cobra.Command, s *export.Scanner, out io.Writer) error {
		sale, err := parseAddress(f.contract)
		if err != nil {
			return failure.New(failure.KindConfig, f.name, "contract", err)
		}
		invs, err := export.Investments(cmd.Context(), s, sale)
		if err != nil {
			return failure.New(failure.KindChain, f.name, f.contract, err)
		}
		if err := export.WriteRawInvestments(out, invs, f.decimals); err != nil {
			return failure.New(failure.KindIO, f.name, f.out, err)
		}
		return nil
	})
	f.register(cmd, "extract-raw-investment-data")
	f.registerContract(cmd, crowdsale.Name()+" address")
	return cmd
}

func issuanceCmd(a *app) *cobra.Command {
	var (
		f       exportFlags
		allower string
	)
	cmd := &cobra.Command{
		Use:   "export-issuance",
		Short: "Write the token transfers made out of the issuer allowance as CSV",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = readerExport(a, &f, func(cmd *cobra.Command, s *export.Scanner, out io.Writer) error {
		tok, err := parseAddress(f.contract)
		if err != nil {
			return failure.New(failure.KindConfig, f.name, "contract", err)
		}
		from, err := parseAddress(allower)
		if err != nil {
			return failure.New(failure.KindConfig, f.name, "allower", err)
		}
		items, err := export.Issuances(cmd.Context(), s, tok, from)
		if err != nil {
			return failure.New(failure.KindChain, f.name, f.contract, err)
		}
		if err := export.WriteIssuances(out, items, f.decimals); err != nil {
			return failure.New(failure.KindIO, f.name, f.out, err)
		}
		return nil
	})
	f.register(cmd, "export-issuance")
	f.registerContract(cmd, token.Name()+" address")
	cmd.Flags().StringVar(&allower, "allower", "", "account whose allowance the issuer spends")
	return cmd
}
