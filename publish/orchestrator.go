package publish

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/cosmo-local-credit/saleops/actions"
	"github.com/cosmo-local-credit/saleops/chain"
	"github.com/cosmo-local-credit/saleops/config"
	"github.com/cosmo-local-credit/saleops/failure"
	"github.com/cosmo-local-credit/saleops/flatten"
	"github.com/cosmo-local-credit/saleops/template"
	"github.com/cosmo-local-credit/saleops/verify"
)

const component = "deploy"

var ErrLibraryNotDeployed = errors.New("library is not deployed")

type (
	Options struct {
		GasLimit      uint64
		GasPrice      *big.Int
		ReportPath    string
		FlattenDir    string
		Compiler      string
		Optimizer     bool
		OptimizerRuns int
		UnlockTimeout time.Duration
		Out           io.Writer
		Now           func() time.Time
	}

	Orchestrator struct {
		gw        chain.Gateway
		artifacts Artifacts
		deployer  *Deployer
		verifier  verify.Verifier
		flattener *flatten.Flattener
		opts      Options
		lggr      *zap.SugaredLogger
	}

	Result struct {
		Deployed     []string
		Skipped      []string
		VerifyErrors map[string]error
	}
)

// NewOrchestrator wires the deploy pipeline. verifier and flattener may be
// nil when source verification is not used.
func NewOrchestrator(gw chain.Gateway, artifacts Artifacts, verifier verify.Verifier, flattener *flatten.Flattener, opts Options, lggr *zap.SugaredLogger) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.UnlockTimeout == 0 {
		opts.UnlockTimeout = time.Hour
	}
	return &Orchestrator{
		gw:        gw,
		artifacts: artifacts,
		deployer:  NewDeployer(gw, opts.GasLimit, opts.GasPrice),
		verifier:  verifier,
		flattener: flattener,
		opts:      opts,
		lggr:      lggr,
	}
}

// Run deploys every contract of env that has no address yet, in declaration
// order, then runs post and verify actions. doc is the document env belongs
// to; it is rewritten to the report path after every deploy so an
// interrupted run resumes from the report.
func (o *Orchestrator) Run(ctx context.Context, doc *config.Document, env *config.Environment) (*Result, error) {
	res := &Result{VerifyErrors: map[string]error{}}
	for _, spec := range env.Contracts.All() {
		if spec.Deployed() {
			o.lggr.Infow("Already deployed", "contract", spec.Name, "address", spec.Address)
			res.Skipped = append(res.Skipped, spec.Name)
			continue
		}
		if err := o.deploy(ctx, env, spec); err != nil {
			return res, err
		}
		res.Deployed = append(res.Deployed, spec.Name)

		if env.VerifyOnEtherscan && o.verifier != nil {
			if err := o.verify(ctx, spec); err != nil {
				o.lggr.Warnw("Verification failed", "contract", spec.Name, "err", err)
				res.VerifyErrors[spec.Name] = err
			}
		}
		if err := o.writeReport(doc); err != nil {
			return res, err
		}
	}

	runner, err := o.runner(env)
	if err != nil {
		return res, err
	}
	if err := runner.Run(ctx, env.PostActions); err != nil {
		return res, failure.New(failure.KindChain, "post_actions", env.Name, err)
	}
	if err := runner.Verify(ctx, env.VerifyActions); err != nil {
		return res, failure.New(failure.KindInvariant, "verify_actions", env.Name, err)
	}
	if err := o.writeReport(doc); err != nil {
		return res, err
	}
	return res, nil
}

func (o *Orchestrator) deploy(ctx context.Context, env *config.Environment, spec *config.ContractSpec) error {
	tctx := template.NewContext(&env.Contracts, o.opts.Now)
	tctx.Set("deployer", o.deployer.Address().Hex())
	args, err := tctx.ExpandMap(spec.Arguments, spec.Name+".arguments")
	if err != nil {
		return failure.New(failure.KindConfig, component, spec.Name, err)
	}
	art, err := o.artifacts.Artifact(spec.ContractName)
	if err != nil {
		return failure.New(failure.KindIO, component, spec.Name, err)
	}

	libs := map[string]common.Address{}
	for _, lib := range art.Libraries() {
		addr, err := libraryAddress(&env.Contracts, lib)
		if err != nil {
			return failure.New(failure.KindConfig, component, spec.Name, err)
		}
		libs[lib] = addr
	}
	code, err := art.Link(libs)
	if err != nil {
		return failure.New(failure.KindConfig, component, spec.Name, err)
	}
	ctor, err := art.EncodeConstructor(args)
	if err != nil {
		return failure.New(failure.KindConfig, component, spec.Name, err)
	}

	if env.UnlockDeployAddress {
		if err := o.gw.EnsureUnlocked(ctx, o.deployer.Address(), o.opts.UnlockTimeout); err != nil {
			return failure.New(failure.KindChain, component, spec.Name, err)
		}
	}
	o.lggr.Infow("Deploying", "contract", spec.Name, "artifact", spec.ContractName, "libraries", len(libs))
	deployed, err := o.deployer.Deploy(ctx, append(code, ctor...))
	if err != nil {
		return failure.New(failure.KindChain, component, spec.Name, err)
	}
	o.lggr.Infow("Deployed", "contract", spec.Name, "address", deployed.ContractAddress.Hex(), "tx", deployed.TxHash.Hex(), "gasUsed", deployed.GasUsed)

	spec.Arguments = args
	spec.Address = deployed.ContractAddress.Hex()
	spec.ConstructorArgs = hex.EncodeToString(ctor)
	if len(libs) > 0 {
		spec.Libraries = map[string]string{}
		for lib, addr := range libs {
			spec.Libraries[lib] = addr.Hex()
		}
	}
	return nil
}

// libraryAddress finds a deployed spec by logical or contract name.
func libraryAddress(contracts *config.ContractSet, lib string) (common.Address, error) {
	if spec, ok := contracts.Get(lib); ok && spec.Deployed() {
		return common.HexToAddress(spec.Address), nil
	}
	for _, spec := range contracts.All() {
		if spec.ContractName == lib && spec.Deployed() {
			return common.HexToAddress(spec.Address), nil
		}
	}
	return common.Address{}, fmt.Errorf("%w: %s", ErrLibraryNotDeployed, lib)
}

func (o *Orchestrator) verify(ctx context.Context, spec *config.ContractSpec) error {
	if o.flattener == nil {
		return errors.New("no source flattener configured")
	}
	flat, err := o.flattener.Flatten(spec.ContractFile)
	if err != nil {
		return err
	}
	if o.opts.FlattenDir != "" {
		if err := os.MkdirAll(o.opts.FlattenDir, 0o750); err != nil {
			return err
		}
		out := filepath.Join(o.opts.FlattenDir, spec.Name+".sol")
		if err := os.WriteFile(out, []byte(flat.Source), 0o644); err != nil {
			return fmt.Errorf("write flattened source: %w", err)
		}
	}
	link, err := o.verifier.Verify(ctx, verify.Request{
		Address:         common.HexToAddress(spec.Address),
		ContractName:    spec.ContractName,
		Source:          flat.Source,
		CompilerVersion: o.opts.Compiler,
		Optimizer:       o.opts.Optimizer,
		OptimizerRuns:   o.opts.OptimizerRuns,
		ConstructorArgs: spec.ConstructorArgs,
		Libraries:       spec.Libraries,
	})
	if err != nil {
		return err
	}
	spec.EtherscanLink = link
	o.lggr.Infow("Verified", "contract", spec.Name, "link", link)
	return nil
}

func (o *Orchestrator) runner(env *config.Environment) (*actions.Runner, error) {
	handles := make([]actions.Handle, 0, env.Contracts.Len())
	for _, spec := range env.Contracts.All() {
		art, err := o.artifacts.Artifact(spec.ContractName)
		if err != nil {
			return nil, failure.New(failure.KindIO, component, spec.Name, err)
		}
		handles = append(handles, actions.Handle{
			Name:    spec.Name,
			Address: common.HexToAddress(spec.Address),
			ABI:     &art.ABI,
		})
	}
	return actions.NewRunner(o.gw, handles, actions.Options{
		GasLimit: o.opts.GasLimit,
		GasPrice: o.opts.GasPrice,
		Out:      o.opts.Out,
		Now:      o.opts.Now,
	}, o.lggr), nil
}

func (o *Orchestrator) writeReport(doc *config.Document) error {
	if o.opts.ReportPath == "" || doc == nil {
		return nil
	}
	if err := WriteReport(o.opts.ReportPath, doc); err != nil {
		return failure.New(failure.KindIO, "report", o.opts.ReportPath, err)
	}
	return nil
}
