package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/cosmo-local-credit/saleops/config"
	"github.com/cosmo-local-credit/saleops/failure"
	"github.com/cosmo-local-credit/saleops/flatten"
	"github.com/cosmo-local-credit/saleops/publish"
	"github.com/cosmo-local-credit/saleops/verify"
)

func deployCmd(a *app) *cobra.Command {
	var (
		envName  string
		from     string
		gasPrice string
		fresh    bool
	)
	cmd := &cobra.Command{
		Use:   "deploy-contracts <deployment.yaml>",
		Short: "Deploy the contracts of one environment, then run post and verify actions",
		Long: "Contracts are deployed in declaration order. Progress is written to <name>.deployed.yaml " +
			"after every deploy; rerunning resumes from that report unless --fresh is given.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			if envName == "" {
				return failure.Newf(failure.KindConfig, "deploy", input, "--environment is required")
			}
			reportPath := publish.ReportPath(input)
			source := input
			if !fresh {
				if _, err := os.Stat(reportPath); err == nil {
					source = reportPath
				} else if !errors.Is(err, fs.ErrNotExist) {
					return failure.New(failure.KindIO, "deploy", reportPath, err)
				}
			}
			doc, err := config.Load(source)
			if err != nil {
				return failure.New(failure.KindConfig, "deploy", source, err)
			}
			env, err := doc.Environment(envName)
			if err != nil {
				return failure.New(failure.KindConfig, "deploy", envName, err)
			}
			if source == reportPath {
				a.lggr.Infow("Resuming from report", "report", reportPath)
			}
			price, err := parseWei(gasPrice)
			if err != nil {
				return failure.New(failure.KindConfig, "deploy", "gas-price", err)
			}

			gw, network, err := a.dial(env.Chain, from)
			if err != nil {
				return err
			}
			s := a.settings.Deploy

			var (
				verifier  verify.Verifier
				flattener *flatten.Flattener
			)
			if env.VerifyOnEtherscan {
				if a.settings.EtherscanAPIKey == "" {
					return failure.Newf(failure.KindConfig, "deploy", config.EnvEtherscanKey, "verify_on_etherscan needs %s", config.EnvEtherscanKey)
				}
				remaps, err := flatten.ParseRemappings(s.Remappings)
				if err != nil {
					return failure.New(failure.KindConfig, "deploy", "remappings", err)
				}
				flattener = flatten.New(s.SourceDir, remaps)
				verifier = verify.NewEtherscan(verify.Config{
					APIURL:      network.EtherscanAPI,
					APIKey:      a.settings.EtherscanAPIKey,
					ExplorerURL: network.ExplorerURL,
				}, a.lggr.Named("verify"))
			}

			orch := publish.NewOrchestrator(gw, publish.NewDir(s.BuildDir), verifier, flattener, publish.Options{
				GasLimit:      s.GasLimit,
				GasPrice:      price,
				ReportPath:    reportPath,
				FlattenDir:    s.FlattenDir,
				Compiler:      s.CompilerTag,
				Optimizer:     s.Optimizer,
				OptimizerRuns: s.OptimizerRuns,
				Out:           cmd.OutOrStdout(),
			}, a.lggr)
			res, err := orch.Run(cmd.Context(), doc, env)
			if err != nil {
				return err
			}
			for name, verr := range res.VerifyErrors {
				a.lggr.Warnw("Contract left unverified", "contract", name, "err", verr)
			}
			a.lggr.Infow("Deployment complete", "environment", env.Name, "deployed", res.Deployed, "skipped", res.Skipped, "report", reportPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&envName, "environment", envOr("SALEOPS_ENVIRONMENT", ""), "environment (chain section) of the deployment document")
	cmd.Flags().StringVar(&from, "from", "", "node-managed deploy account when no private key is configured")
	cmd.Flags().StringVar(&gasPrice, "gas-price", "", "legacy gas price in wei (default EIP-1559 fees)")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "ignore an existing report and start from the input document")
	return cmd
}
