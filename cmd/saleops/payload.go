package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/cosmo-local-credit/saleops/failure"
	"github.com/cosmo-local-credit/saleops/payload"
)

func kycPayloadCmd(_ *app) *cobra.Command {
	var (
		address    string
		customerID string
		minETH     string
		maxETH     string
		pricing    uint64
		priced     bool
	)
	cmd := &cobra.Command{
		Use:   "kyc-payload",
		Short: "Print the hex KYC frame for an investor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := uuid.Parse(customerID)
			if err != nil {
				return failure.New(failure.KindValidation, "kyc-payload", "customer-id", err)
			}
			lo, err := frameUnits(minETH, "min")
			if err != nil {
				return err
			}
			hi, err := frameUnits(maxETH, "max")
			if err != nil {
				return err
			}
			var frame []byte
			if priced || cmd.Flags().Changed("pricing-info") {
				frame, err = payload.PackKYCWithPrice(address, id, lo, hi, pricing)
			} else {
				frame, err = payload.PackKYC(address, id, lo, hi)
			}
			if err != nil {
				return failure.New(failure.KindValidation, "kyc-payload", address, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hexutil.Encode(frame))
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&address, "address", "", "investor address")
	fl.StringVar(&customerID, "customer-id", "", "customer UUID")
	fl.StringVar(&minETH, "min", "0", "minimum investment in ether")
	fl.StringVar(&maxETH, "max", "0", "maximum investment in ether")
	fl.Uint64Var(&pricing, "pricing-info", 0, "pricing tag; selects the priced frame")
	fl.BoolVar(&priced, "priced", false, "emit the priced frame even with a zero tag")
	return cmd
}

func frameUnits(v, which string) (uint32, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, failure.New(failure.KindValidation, "kyc-payload", which, err)
	}
	n, err := payload.ToFrameUnits(d)
	if err != nil {
		return 0, failure.New(failure.KindValidation, "kyc-payload", which, err)
	}
	return n, nil
}

func signPayloadCmd(_ *app) *cobra.Command {
	var (
		data    string
		seed    string
		chainID uint64
	)
	cmd := &cobra.Command{
		Use:   "sign-payload",
		Short: "Sign a hex payload with a seed-derived server key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if seed == "" {
				return failure.Newf(failure.KindConfig, "sign-payload", "seed", "--seed or SALEOPS_SIGNING_SEED is required")
			}
			msg, err := hexutil.Decode(data)
			if err != nil {
				return failure.New(failure.KindValidation, "sign-payload", "payload", err)
			}
			sig, err := payload.Sign(msg, seed, chainID)
			if err != nil {
				return failure.New(failure.KindValidation, "sign-payload", "payload", err)
			}
			signer, err := payload.DeriveAddress(seed)
			if err != nil {
				return failure.New(failure.KindValidation, "sign-payload", "seed", err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "signer %s\n", signer.Hex())
			fmt.Fprintf(w, "hash 0x%x\n", payload.MessageHash(msg))
			fmt.Fprintln(w, sig)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&data, "payload", "", "0x-prefixed payload")
	fl.StringVar(&seed, "seed", envOr("SALEOPS_SIGNING_SEED", ""), "signing seed")
	fl.Uint64Var(&chainID, "chain-id", 0, "apply replay protection for this chain id")
	return cmd
}
