package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
)

const (
	DefaultSettingsFile = "saleops.toml"
	DefaultBatchSize    = 16
	DefaultGasLimit     = 4_000_000

	EnvPrivateKey     = "SALEOPS_PRIVATE_KEY"
	EnvRPCURL         = "SALEOPS_RPC_URL"
	EnvChainID        = "SALEOPS_CHAIN_ID"
	EnvEtherscanKey   = "ETHERSCAN_API_KEY"
	EnvSettingsPath   = "SALEOPS_CONFIG"
	EnvDeployPassword = "SALEOPS_DEPLOY_PASSWORD"
)

var ErrUnknownNetwork = errors.New("unknown network")

type (
	Duration struct {
		time.Duration
	}

	Network struct {
		RPCURL         string   `toml:"rpc_url"`
		ChainID        uint64   `toml:"chain_id"`
		GasFeeCap      string   `toml:"gas_fee_cap"`
		GasTipCap      string   `toml:"gas_tip_cap"`
		PollInterval   Duration `toml:"poll_interval"`
		ReceiptTimeout Duration `toml:"receipt_timeout"`
		EtherscanAPI   string   `toml:"etherscan_api"`
		ExplorerURL    string   `toml:"explorer_url"`
	}

	Deploy struct {
		BuildDir      string   `toml:"build_dir"`
		SourceDir     string   `toml:"source_dir"`
		FlattenDir    string   `toml:"flatten_dir"`
		Remappings    []string `toml:"remappings"`
		GasLimit      uint64   `toml:"gas_limit"`
		CompilerTag   string   `toml:"compiler"`
		Optimizer     bool     `toml:"optimizer"`
		OptimizerRuns int      `toml:"optimizer_runs"`
	}

	Distribution struct {
		BatchSize   int    `toml:"batch_size"`
		StateDir    string `toml:"state_dir"`
		MetricsAddr string `toml:"metrics_addr"`
	}

	Log struct {
		Level string `toml:"level"`
		JSON  bool   `toml:"json"`
	}

	// Settings configure the tool itself, as opposed to a sale.
	Settings struct {
		Networks     map[string]Network `toml:"networks"`
		Deploy       Deploy             `toml:"deploy"`
		Distribution Distribution       `toml:"distribution"`
		Log          Log                `toml:"log"`

		PrivateKey      string `toml:"-"`
		EtherscanAPIKey string `toml:"-"`
		DeployPassword  string `toml:"-"`
	}
)

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func DefaultSettings() *Settings {
	return &Settings{
		Networks: map[string]Network{},
		Deploy: Deploy{
			BuildDir:      "build/contracts",
			SourceDir:     "contracts",
			FlattenDir:    "build/flattened",
			GasLimit:      DefaultGasLimit,
			CompilerTag:   "v0.4.18+commit.9cf6e910",
			OptimizerRuns: 500,
		},
		Distribution: Distribution{BatchSize: DefaultBatchSize, StateDir: "."},
		Log:          Log{Level: "info"},
	}
}

// LoadEnv loads .env files, ignoring ones that do not exist. Variables
// already set in the process environment win.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// LoadSettings reads the settings file over the defaults, then applies
// environment overrides. A missing file at the default location is not an
// error.
func LoadSettings(path string) (*Settings, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvSettingsPath)
		explicit = path != ""
	}
	if path == "" {
		path = DefaultSettingsFile
	}
	s := DefaultSettings()
	if _, err := toml.DecodeFile(path, s); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load settings %s: %w", filepath.Clean(path), err)
		}
	}
	if err := s.applyEnv(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("settings validation failed: %w", err)
	}
	return s, nil
}

// ParseSettings decodes settings from TOML text, without environment
// overrides.
func ParseSettings(data string) (*Settings, error) {
	s := DefaultSettings()
	if _, err := toml.Decode(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("settings validation failed: %w", err)
	}
	return s, nil
}

func (s *Settings) applyEnv() error {
	s.PrivateKey = os.Getenv(EnvPrivateKey)
	s.EtherscanAPIKey = os.Getenv(EnvEtherscanKey)
	s.DeployPassword = os.Getenv(EnvDeployPassword)
	if url := os.Getenv(EnvRPCURL); url != "" {
		n := s.Networks["default"]
		n.RPCURL = url
		if v := os.Getenv(EnvChainID); v != "" {
			id, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", EnvChainID, err)
			}
			n.ChainID = id
		}
		s.Networks["default"] = n
	}
	return nil
}

func (s *Settings) Validate() error {
	for name, n := range s.Networks {
		if err := n.Validate(); err != nil {
			return fmt.Errorf("network %s: %w", name, err)
		}
	}
	return validation.ValidateStruct(&s.Distribution,
		validation.Field(&s.Distribution.BatchSize, validation.Required, validation.Min(1)),
	)
}

var isWei = validation.By(func(value any) error {
	v, _ := value.(string)
	if v == "" {
		return nil
	}
	if n, ok := new(big.Int).SetString(v, 10); !ok || n.Sign() < 0 {
		return fmt.Errorf("%q is not a wei amount", v)
	}
	return nil
})

func (n Network) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.RPCURL, validation.Required),
		validation.Field(&n.GasFeeCap, isWei),
		validation.Field(&n.GasTipCap, isWei),
	)
}

// Network resolves a chain name from the deployment document. A network
// named "default" serves any chain without its own entry.
func (s *Settings) Network(name string) (Network, error) {
	if n, ok := s.Networks[name]; ok {
		return n, nil
	}
	if n, ok := s.Networks["default"]; ok {
		return n, nil
	}
	return Network{}, fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
}

// Wei parses an optional decimal wei string; empty yields nil.
func Wei(v string) *big.Int {
	if v == "" {
		return nil
	}
	n, _ := new(big.Int).SetString(v, 10)
	return n
}
