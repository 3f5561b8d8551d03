package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cosmo-local-credit/saleops/failure"
	"github.com/cosmo-local-credit/saleops/plan"
)

func combineCmd(_ *app) *cobra.Command {
	var (
		addressCols      string
		amountCols       string
		decimals         int32
		allowBadChecksum bool
		out              string
		errorsOut        string
	)
	cmd := &cobra.Command{
		Use:   "combine-csvs <file.csv>...",
		Short: "Merge distribution sheets into one plan keyed by address",
		Long: "Column flags take one name for every file or a comma separated name per file. " +
			"Rejected rows are reported but never stop the merge.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := perFile(splitCSV(addressCols), len(args), "address-column")
			if err != nil {
				return err
			}
			amounts, err := perFile(splitCSV(amountCols), len(args), "amount-column")
			if err != nil {
				return err
			}

			sheets := make([]plan.Sheet, len(args))
			for i, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return failure.New(failure.KindIO, "combine", path, err)
				}
				defer f.Close()
				sheets[i] = plan.Sheet{Name: filepath.Base(path), Reader: f, AddressColumn: addrs[i], AmountColumn: amounts[i]}
			}
			c, err := plan.Combine(sheets, plan.NormalizeOptions{Decimals: decimals, AllowBadChecksum: allowBadChecksum})
			if err != nil {
				return failure.New(failure.KindValidation, "combine", "", err)
			}

			if err := writeTo(cmd.OutOrStdout(), out, func(w io.Writer) error { return plan.WriteCombinedCSV(w, c) }); err != nil {
				return failure.New(failure.KindIO, "combine", out, err)
			}
			if err := writeTo(cmd.ErrOrStderr(), errorsOut, func(w io.Writer) error { return plan.WriteErrors(w, c.Errors) }); err != nil {
				return failure.New(failure.KindIO, "combine", errorsOut, err)
			}

			w := cmd.ErrOrStderr()
			fmt.Fprintf(w, "rows: %d\n", c.TotalRows)
			fmt.Fprintf(w, "unique addresses: %d\n", c.UniqueKeys())
			fmt.Fprintf(w, "rejected rows: %d\n", len(c.Errors))
			fmt.Fprintf(w, "raw total: %s\n", c.RawSum)
			fmt.Fprintf(w, "rounded total: %s\n", c.RoundedSum.StringFixed(decimals))
			fmt.Fprintf(w, "approve: %s\n", c.ApproveUnits())
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&addressCols, "address-column", "address", "address column name(s)")
	fl.StringVar(&amountCols, "amount-column", "amount", "amount column name(s)")
	fl.Int32Var(&decimals, "decimals", int32(envInt64("SALEOPS_TOKEN_DECIMALS", 18)), "token decimals")
	fl.BoolVar(&allowBadChecksum, "allow-bad-checksum", false, "accept mixed-case addresses failing EIP-55")
	fl.StringVar(&out, "out", "", "combined CSV (default stdout)")
	fl.StringVar(&errorsOut, "errors", "", "rejected rows report (default stderr)")
	return cmd
}

func perFile(names []string, files int, flag string) ([]string, error) {
	switch len(names) {
	case files:
		return names, nil
	case 1:
		out := make([]string, files)
		for i := range out {
			out[i] = names[0]
		}
		return out, nil
	default:
		return nil, failure.Newf(failure.KindConfig, "combine", flag, "%d names for %d files", len(names), files)
	}
}

// writeTo writes to path, or to fallback when path is empty.
func writeTo(fallback io.Writer, path string, write func(io.Writer) error) error {
	if path == "" {
		return write(fallback)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
