package main

import (
	"bufio"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cosmo-local-credit/saleops/chain"
	"github.com/cosmo-local-credit/saleops/config"
	"github.com/cosmo-local-credit/saleops/failure"
	"github.com/cosmo-local-credit/saleops/logging"
)

type app struct {
	flags struct {
		settings    string
		envFiles    []string
		network     string
		logLevel    string
		logJSON     bool
		metricsAddr string
	}

	settings *config.Settings
	lggr     *zap.SugaredLogger
	metrics  *http.Server
	gateways []chain.Gateway
}

func (a *app) init(cmd *cobra.Command) error {
	if err := config.LoadEnv(a.flags.envFiles...); err != nil {
		return failure.New(failure.KindConfig, "settings", "", err)
	}
	s, err := config.LoadSettings(a.flags.settings)
	if err != nil {
		return failure.New(failure.KindConfig, "settings", "", err)
	}
	a.settings = s

	level := s.Log.Level
	if a.flags.logLevel != "" {
		level = a.flags.logLevel
	}
	a.lggr, err = logging.New(level, a.flags.logJSON || s.Log.JSON)
	if err != nil {
		return failure.New(failure.KindConfig, "settings", "log", err)
	}
	a.lggr = a.lggr.Named(cmd.Name())

	addr := a.flags.metricsAddr
	if addr == "" {
		addr = s.Distribution.MetricsAddr
	}
	if addr != "" {
		a.serveMetrics(addr)
	}
	return nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.lggr.Errorw("Metrics server stopped", "addr", addr, "err", err)
		}
	}()
	a.lggr.Infow("Serving metrics", "addr", addr)
}

func (a *app) close() error {
	for _, gw := range a.gateways {
		_ = gw.Close()
	}
	if a.metrics != nil {
		return a.metrics.Close()
	}
	return nil
}

// dial opens a gateway for the named network, or the --network flag when
// name is empty. Without a private key the node-managed account given by
// from is used.
func (a *app) dial(name string, from string) (chain.Gateway, config.Network, error) {
	return a.open(name, from, true)
}

// dialReader opens a gateway that only reads; no account is required.
func (a *app) dialReader() (chain.Gateway, config.Network, error) {
	return a.open("", "", false)
}

func (a *app) open(name string, from string, signer bool) (chain.Gateway, config.Network, error) {
	if name == "" {
		name = a.flags.network
	}
	n, err := a.settings.Network(name)
	if err != nil {
		return nil, n, failure.New(failure.KindConfig, "settings", name, err)
	}
	cfg := chain.Config{
		RPCURL:       n.RPCURL,
		ChainID:      n.ChainID,
		GasFeeCap:    config.Wei(n.GasFeeCap),
		GasTipCap:    config.Wei(n.GasTipCap),
		PollInterval: n.PollInterval.Duration,
		Prompt:       a.prompt,
	}
	switch {
	case a.settings.PrivateKey != "":
		key, _, err := parsePrivateKey(a.settings.PrivateKey)
		if err != nil {
			return nil, n, failure.New(failure.KindConfig, "settings", config.EnvPrivateKey, err)
		}
		cfg.PrivateKey = key
	case from != "":
		addr, err := parseAddress(from)
		if err != nil {
			return nil, n, failure.New(failure.KindConfig, "settings", "from", err)
		}
		cfg.Account = addr
	case signer:
		return nil, n, failure.Newf(failure.KindConfig, "settings", config.EnvPrivateKey, "%s or --from is required", config.EnvPrivateKey)
	}
	gw, err := chain.Dial(cfg, a.lggr.Named("chain"))
	if err != nil {
		return nil, n, failure.New(failure.KindChain, "chain", name, err)
	}
	a.gateways = append(a.gateways, gw)
	return gw, n, nil
}

// prompt asks once for the password of a node-managed account unless it
// is set in the environment.
func (a *app) prompt(addr common.Address) (string, error) {
	if a.settings.DeployPassword != "" {
		return a.settings.DeployPassword, nil
	}
	fmt.Fprintf(os.Stderr, "Password to unlock %s: ", addr.Hex())
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (a *app) receiptTimeout(n config.Network) time.Duration {
	if n.ReceiptTimeout.Duration > 0 {
		return n.ReceiptTimeout.Duration
	}
	return chain.DefaultReceiptTimeout
}

func parsePrivateKey(v string) (*ecdsa.PrivateKey, common.Address, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "0x")
	key, err := crypto.HexToECDSA(v)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("parse private key: %w", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

func parseAddress(v string) (common.Address, error) {
	return chain.ParseAddress(v, false)
}

// parseWei accepts an empty string as "let the gateway decide".
func parseWei(v string) (*big.Int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid wei amount: %s", v)
	}
	return n, nil
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt64(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
