// Command saleops operates token sales: contract deployment, batched
// distributions, token vaults and event exports.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cosmo-local-credit/saleops/failure"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := execute(ctx, &app{}, os.Args[1:]...)
	stop()
	if err != nil {
		exitErr(os.Stderr, err)
	}
}

// execute runs one command and releases gateways and the metrics server
// whether or not the command failed.
func execute(ctx context.Context, a *app, args ...string) error {
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "saleops",
		Short:         "Token sale deployment and distribution toolkit",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	f := cmd.PersistentFlags()
	f.StringVar(&a.flags.settings, "config", "", "settings file (default $SALEOPS_CONFIG or saleops.toml)")
	f.StringSliceVar(&a.flags.envFiles, "env-file", []string{".env"}, "dotenv files to load")
	f.StringVar(&a.flags.network, "network", "default", "network from the settings file")
	f.StringVar(&a.flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.BoolVar(&a.flags.logJSON, "log-json", false, "log as JSON")
	f.StringVar(&a.flags.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")

	cmd.AddCommand(
		deployCmd(a),
		issuerCmd(a),
		issuerExtIDCmd(a),
		preallocateCmd(a),
		refundCmd(a),
		amlReclaimCmd(a),
		vaultCmd(a),
		combineCmd(a),
		investorDataCmd(a),
		rawInvestmentCmd(a),
		issuanceCmd(a),
		kycPayloadCmd(a),
		signPayloadCmd(a),
	)
	return cmd
}

// exitErr prints the one line fatal diagnostic and exits non-zero.
func exitErr(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %s\n", failure.Line(err))
	os.Exit(1)
}
