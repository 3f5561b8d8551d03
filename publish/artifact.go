package publish

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/cosmo-local-credit/saleops/chain"
)

var (
	ErrUnlinked       = errors.New("library not linked")
	ErrNoBytecode     = errors.New("artifact has no bytecode")
	ErrMissingArg     = errors.New("missing constructor argument")
	ErrUnexpectedArg  = errors.New("unexpected constructor argument")
	ErrArtifactFormat = errors.New("unsupported artifact format")
)

const placeholderLen = 40

type (
	LinkRef struct {
		Start  int `json:"start"`
		Length int `json:"length"`
	}

	// Artifact is a compiled contract: ABI plus creation bytecode that may
	// still carry library placeholders.
	Artifact struct {
		ContractName string
		ABI          abi.ABI
		code         string
		links        map[string][]LinkRef
	}

	// Artifacts resolves a contract name to its compiled artifact.
	Artifacts interface {
		Artifact(name string) (*Artifact, error)
	}

	// Dir reads <Path>/<name>.json artifacts, caching them.
	Dir struct {
		Path  string
		mu    sync.Mutex
		cache map[string]*Artifact
	}

	rawArtifact struct {
		ContractName   string                          `json:"contractName"`
		ABI            json.RawMessage                 `json:"abi"`
		Bytecode       json.RawMessage                 `json:"bytecode"`
		LinkReferences map[string]map[string][]LinkRef `json:"linkReferences"`
	}

	bytecodeObject struct {
		Object         string                          `json:"object"`
		LinkReferences map[string]map[string][]LinkRef `json:"linkReferences"`
	}
)

// ParseArtifact reads truffle, hardhat or foundry style JSON artifacts.
// Legacy __Name____ placeholders are located when no link references are
// given.
func ParseArtifact(name string, data []byte) (*Artifact, error) {
	var raw rawArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", name, err)
	}
	a := &Artifact{ContractName: name, links: map[string][]LinkRef{}}
	if raw.ContractName != "" {
		a.ContractName = raw.ContractName
	}
	parsed, err := abi.JSON(bytes.NewReader(raw.ABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi of %s: %w", name, err)
	}
	a.ABI = parsed

	refs := raw.LinkReferences
	var code string
	if err := json.Unmarshal(raw.Bytecode, &code); err != nil {
		var obj bytecodeObject
		if err := json.Unmarshal(raw.Bytecode, &obj); err != nil {
			return nil, fmt.Errorf("%w: bytecode of %s", ErrArtifactFormat, name)
		}
		code = obj.Object
		if len(obj.LinkReferences) > 0 {
			refs = obj.LinkReferences
		}
	}
	a.code = strings.TrimPrefix(code, "0x")
	if a.code == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoBytecode, name)
	}

	for _, libs := range refs {
		for lib, positions := range libs {
			a.links[lib] = append(a.links[lib], positions...)
		}
	}
	if len(a.links) == 0 {
		a.findPlaceholders()
	}
	return a, nil
}

func (a *Artifact) findPlaceholders() {
	for i := 0; i+placeholderLen <= len(a.code); {
		if a.code[i] != '_' || a.code[i+1] != '_' || i%2 != 0 {
			i++
			continue
		}
		chunk := a.code[i : i+placeholderLen]
		lib := strings.Trim(chunk, "_")
		if j := strings.LastIndex(lib, ":"); j >= 0 {
			lib = lib[j+1:]
		}
		a.links[lib] = append(a.links[lib], LinkRef{Start: i / 2, Length: 20})
		i += placeholderLen
	}
}

// Libraries lists the library names the bytecode must be linked against.
func (a *Artifact) Libraries() []string {
	out := make([]string, 0, len(a.links))
	for lib := range a.links {
		out = append(out, lib)
	}
	sort.Strings(out)
	return out
}

// Link substitutes library addresses into the bytecode.
func (a *Artifact) Link(addrs map[string]common.Address) ([]byte, error) {
	code := []byte(a.code)
	for lib, positions := range a.links {
		addr, ok := addrs[lib]
		if !ok {
			return nil, fmt.Errorf("%w: %s needs %s", ErrUnlinked, a.ContractName, lib)
		}
		h := hex.EncodeToString(addr.Bytes())
		for _, p := range positions {
			if 2*(p.Start+p.Length) > len(code) || p.Length != 20 {
				return nil, fmt.Errorf("%w: bad link reference for %s at %d", ErrArtifactFormat, lib, p.Start)
			}
			copy(code[2*p.Start:], h)
		}
	}
	out, err := hex.DecodeString(string(code))
	if err != nil {
		return nil, fmt.Errorf("decode bytecode of %s: %w", a.ContractName, err)
	}
	return out, nil
}

// EncodeConstructor packs named arguments in the order of the ABI
// constructor inputs.
func (a *Artifact) EncodeConstructor(args map[string]any) ([]byte, error) {
	inputs := a.ABI.Constructor.Inputs
	known := make(map[string]bool, len(inputs))
	vals := make([]any, len(inputs))
	for i, in := range inputs {
		v, ok := args[in.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingArg, in.Name)
		}
		vals[i] = v
		known[in.Name] = true
	}
	for name := range args {
		if !known[name] {
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedArg, name)
		}
	}
	if len(inputs) == 0 {
		return nil, nil
	}
	return chain.PackArgs(inputs, vals)
}

func NewDir(path string) *Dir {
	return &Dir{Path: path, cache: map[string]*Artifact{}}
}

func (d *Dir) Artifact(name string) (*Artifact, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.cache[name]; ok {
		return a, nil
	}
	data, err := os.ReadFile(filepath.Join(d.Path, name+".json"))
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	a, err := ParseArtifact(name, data)
	if err != nil {
		return nil, err
	}
	d.cache[name] = a
	return a, nil
}
