// Package verify submits flattened contract sources to an Etherscan
// compatible explorer.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrRejected = errors.New("verification rejected")
	ErrPending  = errors.New("verification still pending")
)

type (
	Request struct {
		Address         common.Address
		ContractName    string
		Source          string
		CompilerVersion string
		Optimizer       bool
		OptimizerRuns   int
		ConstructorArgs string
		Libraries       map[string]string
	}

	// Verifier returns a link to the verified source.
	Verifier interface {
		Verify(ctx context.Context, req Request) (string, error)
	}

	Config struct {
		APIURL       string
		APIKey       string
		ExplorerURL  string
		Interval     time.Duration
		PollInterval time.Duration
		MaxPolls     int
		Timeout      time.Duration
	}

	Etherscan struct {
		cfg     Config
		client  *resty.Client
		limiter *rate.Limiter
		lggr    *zap.SugaredLogger
	}

	apiResponse struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Result  string `json:"result"`
	}
)

var _ Verifier = (*Etherscan)(nil)

func NewEtherscan(cfg Config, lggr *zap.SugaredLogger) *Etherscan {
	if cfg.Interval == 0 {
		cfg.Interval = 200 * time.Millisecond
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxPolls == 0 {
		cfg.MaxPolls = 24
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Etherscan{
		cfg:     cfg,
		client:  resty.New().SetTimeout(cfg.Timeout),
		limiter: rate.NewLimiter(rate.Every(cfg.Interval), 1),
		lggr:    lggr,
	}
}

// Verify submits the source and polls until the explorer accepts or
// rejects it.
func (e *Etherscan) Verify(ctx context.Context, req Request) (string, error) {
	guid, err := e.submit(ctx, req)
	if err != nil {
		return "", err
	}
	e.lggr.Infow("Submitted source for verification", "contract", req.ContractName, "address", req.Address.Hex(), "guid", guid)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for i := 0; i < e.cfg.MaxPolls; i++ {
		done, err := e.status(ctx, guid)
		if err != nil {
			return "", err
		}
		if done {
			return e.Link(req.Address), nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
	return "", fmt.Errorf("%w: %s", ErrPending, guid)
}

func (e *Etherscan) Link(addr common.Address) string {
	return strings.TrimSuffix(e.cfg.ExplorerURL, "/") + "/address/" + addr.Hex() + "#code"
}

func (e *Etherscan) submit(ctx context.Context, req Request) (string, error) {
	form := map[string]string{
		"apikey":                e.cfg.APIKey,
		"module":                "contract",
		"action":                "verifysourcecode",
		"contractaddress":       req.Address.Hex(),
		"sourceCode":            req.Source,
		"codeformat":            "solidity-single-file",
		"contractname":          req.ContractName,
		"compilerversion":       req.CompilerVersion,
		"optimizationUsed":      "0",
		"runs":                  strconv.Itoa(req.OptimizerRuns),
		"constructorArguements": req.ConstructorArgs,
	}
	if req.Optimizer {
		form["optimizationUsed"] = "1"
	}
	names := make([]string, 0, len(req.Libraries))
	for name := range req.Libraries {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		form[fmt.Sprintf("libraryname%d", i+1)] = name
		form[fmt.Sprintf("libraryaddress%d", i+1)] = req.Libraries[name]
	}

	var out apiResponse
	if err := e.do(ctx, e.client.R().SetFormData(form), "POST", &out); err != nil {
		return "", err
	}
	if out.Status != "1" {
		if strings.Contains(strings.ToLower(out.Result), "already verified") {
			return "", nil
		}
		return "", fmt.Errorf("%w: %s: %s", ErrRejected, out.Message, out.Result)
	}
	return out.Result, nil
}

func (e *Etherscan) status(ctx context.Context, guid string) (bool, error) {
	if guid == "" {
		return true, nil
	}
	var out apiResponse
	r := e.client.R().SetQueryParams(map[string]string{
		"apikey": e.cfg.APIKey,
		"module": "contract",
		"action": "checkverifystatus",
		"guid":   guid,
	})
	if err := e.do(ctx, r, "GET", &out); err != nil {
		return false, err
	}
	switch {
	case out.Status == "1":
		return true, nil
	case strings.Contains(strings.ToLower(out.Result), "pending"):
		return false, nil
	case strings.Contains(strings.ToLower(out.Result), "already verified"):
		return true, nil
	}
	return false, fmt.Errorf("%w: %s", ErrRejected, out.Result)
}

func (e *Etherscan) do(ctx context.Context, r *resty.Request, method string, out *apiResponse) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := r.SetContext(ctx).Execute(method, e.cfg.APIURL)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("explorer returned status %d: %s", resp.StatusCode(), resp.String())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode explorer response: %w", err)
	}
	return nil
}
