package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/cosmo-local-credit/saleops/config"
	"github.com/cosmo-local-credit/saleops/contracts/amltoken"
	"github.com/cosmo-local-credit/saleops/contracts/crowdsale"
	"github.com/cosmo-local-credit/saleops/contracts/issuer"
	"github.com/cosmo-local-credit/saleops/contracts/issuerextid"
	"github.com/cosmo-local-credit/saleops/distribute"
	"github.com/cosmo-local-credit/saleops/failure"
	"github.com/cosmo-local-credit/saleops/plan"
)

// planFlags are shared by every command reading a distribution CSV.
type planFlags struct {
	csv              string
	cols             plan.Columns
	decimals         int32
	allowBadChecksum bool
	allowZero        bool
	expectedTotal    string

	contract  string
	from      string
	batchSize int
	start     int
	count     int
	gasPrice  string
	gasLimit  uint64
	state     string
	planOut   string
}

// register adds the plan and driver flags. contract names the binding the
// --contract flag points at; empty for jobs without a target contract.
func (f *planFlags) register(cmd *cobra.Command, withDecimals bool, contract string) {
	fl := cmd.Flags()
	fl.StringVar(&f.csv, "csv", "", "input CSV")
	fl.StringVar(&f.cols.Address, "address-column", envOr("SALEOPS_ADDRESS_COLUMN", "address"), "address column")
	fl.StringVar(&f.cols.Amount, "amount-column", envOr("SALEOPS_AMOUNT_COLUMN", "amount"), "amount column")
	if withDecimals {
		fl.Int32Var(&f.decimals, "decimals", int32(envInt64("SALEOPS_TOKEN_DECIMALS", 18)), "token decimals")
	}
	fl.BoolVar(&f.allowBadChecksum, "allow-bad-checksum", false, "accept mixed-case addresses failing EIP-55")
	fl.BoolVar(&f.allowZero, "allow-zero", false, "skip zero amounts instead of failing")
	fl.StringVar(&f.expectedTotal, "expected-total", "", "refuse to run unless amounts sum to this")
	if contract != "" {
		fl.StringVar(&f.contract, "contract", "", contract+" contract address")
	}
	fl.StringVar(&f.planOut, "plan-out", "", "write the normalized rows of the selected window to this CSV before sending")
	fl.StringVar(&f.from, "from", "", "node-managed sending account when no private key is configured")
	fl.IntVar(&f.batchSize, "batch-size", 0, "transactions in flight (default from settings)")
	fl.IntVar(&f.start, "start", 0, "first plan row to process")
	fl.IntVar(&f.count, "count", 0, "number of rows to process (0 = all)")
	fl.StringVar(&f.gasPrice, "gas-price", "", "legacy gas price in wei (default EIP-1559 fees)")
	fl.Uint64Var(&f.gasLimit, "gas-limit", 0, "per transaction gas ceiling (default per job)")
	fl.StringVar(&f.state, "state", "", "resume state file (default <state_dir>/<job>-<csv>.state.json)")
}

func (f *planFlags) readPlan(component string) (*plan.Plan, error) {
	if f.csv == "" {
		return nil, failure.Newf(failure.KindConfig, component, "csv", "--csv is required")
	}
	file, err := os.Open(f.csv)
	if err != nil {
		return nil, failure.New(failure.KindIO, component, f.csv, err)
	}
	defer file.Close()
	p, err := plan.Read(file, f.csv, f.cols, plan.ReadOptions{
		Decimals:         f.decimals,
		AllowBadChecksum: f.allowBadChecksum,
		AllowZero:        f.allowZero,
	})
	if err != nil {
		return nil, failure.New(failure.KindValidation, component, f.csv, err)
	}
	if f.expectedTotal != "" {
		expected, err := decimal.NewFromString(f.expectedTotal)
		if err != nil {
			return nil, failure.New(failure.KindConfig, component, "expected-total", err)
		}
		if err := p.CheckTotal(expected); err != nil {
			return nil, failure.New(failure.KindInvariant, component, f.csv, err)
		}
	}
	return p, nil
}

// dumpPlan writes the rows the run will consider, as normalized by the
// reader, so operators can diff them against the source sheet.
func (f *planFlags) dumpPlan(component string, p *plan.Plan) error {
	if f.planOut == "" {
		return nil
	}
	out, err := os.Create(f.planOut)
	if err != nil {
		return failure.New(failure.KindIO, component, f.planOut, err)
	}
	if err := plan.Write(out, p.Slice(f.start, f.count)); err != nil {
		out.Close()
		return failure.New(failure.KindIO, component, f.planOut, err)
	}
	if err := out.Close(); err != nil {
		return failure.New(failure.KindIO, component, f.planOut, err)
	}
	return nil
}

func (f *planFlags) options(a *app, job string, n config.Network) (distribute.Options, error) {
	opts := distribute.Options{ReceiptTimeout: a.receiptTimeout(n)}
	price, err := parseWei(f.gasPrice)
	if err != nil {
		return opts, failure.New(failure.KindConfig, job, "gas-price", err)
	}
	opts.GasPrice = price
	opts.GasLimit = f.gasLimit
	opts.BatchSize = f.batchSize
	if opts.BatchSize == 0 {
		opts.BatchSize = a.settings.Distribution.BatchSize
	}
	opts.Start, opts.Count = f.start, f.count
	opts.AllowZero = f.allowZero
	opts.StatePath = f.state
	if opts.StatePath == "" {
		base := strings.TrimSuffix(filepath.Base(f.csv), filepath.Ext(f.csv))
		opts.StatePath = filepath.Join(a.settings.Distribution.StateDir, fmt.Sprintf("%s-%s.state.json", job, base))
	}
	return opts, nil
}

// runJob reads the plan, dials the chain and drives job over it.
func runJob(cmd *cobra.Command, a *app, f *planFlags, build func() (distribute.Job, error)) error {
	job, err := build()
	if err != nil {
		return err
	}
	p, err := f.readPlan(job.Name())
	if err != nil {
		return err
	}
	if err := f.dumpPlan(job.Name(), p); err != nil {
		return err
	}
	gw, network, err := a.dial("", f.from)
	if err != nil {
		return err
	}
	opts, err := f.options(a, job.Name(), network)
	if err != nil {
		return err
	}
	res, err := distribute.NewDriver(gw, job, opts, a.lggr).Run(cmd.Context(), p)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d submitted, %d confirmed, %d skipped of %d rows\n",
		job.Name(), res.Submitted, res.Confirmed, len(res.Skipped), len(p.Rows))
	return nil
}

func contractAddress(component, v string) (common.Address, error) {
	addr, err := parseAddress(v)
	if err != nil {
		return addr, failure.New(failure.KindConfig, component, "contract", err)
	}
	return addr, nil
}

func issuerCmd(a *app) *cobra.Command {
	var f planFlags
	cmd := &cobra.Command{
		Use:   "distribute-tokens",
		Short: "Issue tokens to every address of a CSV through an Issuer contract",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJob(cmd, a, &f, func() (distribute.Job, error) {
				addr, err := contractAddress("issuer", f.contract)
				return distribute.IssuerJob{Issuer: addr}, err
			})
		},
	}
	f.register(cmd, true, issuer.Name())
	return cmd
}

func issuerExtIDCmd(a *app) *cobra.Command {
	var f planFlags
	cmd := &cobra.Command{
		Use:   "distribute-tokens-ext-id",
		Short: "Issue tokens keyed by an external id through an IssuerWithId contract",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJob(cmd, a, &f, func() (distribute.Job, error) {
				addr, err := contractAddress("issuer-ext-id", f.contract)
				return distribute.IssuerExtIDJob{Issuer: addr}, err
			})
		},
	}
	f.register(cmd, true, issuerextid.Name())
	cmd.Flags().StringVar(&f.cols.ExternalID, "external-id-column", "external_id", "external id column")
	return cmd
}

func preallocateCmd(a *app) *cobra.Command {
	var (
		f     planFlags
		price string
	)
	cmd := &cobra.Command{
		Use:   "preallocate",
		Short: "Preallocate whole tokens to investors on a crowdsale",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJob(cmd, a, &f, func() (distribute.Job, error) {
				addr, err := contractAddress("preallocate", f.contract)
				if err != nil {
					return nil, err
				}
				wei, err := parseWei(price)
				if err != nil {
					return nil, failure.New(failure.KindConfig, "preallocate", "wei-price", err)
				}
				return distribute.CrowdsaleJob{Crowdsale: addr, WeiPrice: wei}, nil
			})
		},
	}
	f.register(cmd, false, crowdsale.Name())
	cmd.Flags().StringVar(&price, "wei-price", "0", "price per whole token in wei, recorded as the invested amount")
	return cmd
}

func refundCmd(a *app) *cobra.Command {
	var f planFlags
	cmd := &cobra.Command{
		Use:   "refund",
		Short: "Send ETH refunds from the hot wallet",
		Long:  "Rows are recorded in the resume state as soon as they are sent, so a crash never pays a row twice.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.decimals = 18
			return runJob(cmd, a, &f, func() (distribute.Job, error) {
				return distribute.RefundJob{}, nil
			})
		},
	}
	f.register(cmd, false, "")
	cmd.Flags().StringVar(&f.cols.Ref, "ref-column", "", "column keying refunds (e.g. email); default the address")
	return cmd
}

func amlReclaimCmd(a *app) *cobra.Command {
	var f planFlags
	cmd := &cobra.Command{
		Use:   "aml-reclaim",
		Short: "Move the balances of listed accounts back to the token owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.allowZero = true
			return runJob(cmd, a, &f, func() (distribute.Job, error) {
				addr, err := contractAddress("aml-reclaim", f.contract)
				return distribute.AMLReclaimJob{Token: addr}, err
			})
		},
	}
	f.register(cmd, true, amltoken.Name())
	return cmd
}
