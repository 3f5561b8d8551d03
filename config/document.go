// Package config holds the deployment document (YAML, one entry per
// environment) and the tool settings (TOML plus environment variables).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownEnvironment = errors.New("unknown environment")
	ErrDuplicateName      = errors.New("duplicate name")
)

type (
	// ContractSpec is one node of the deploy graph. Address, ConstructorArgs,
	// Libraries and EtherscanLink are filled in once the contract is deployed.
	ContractSpec struct {
		Name            string            `yaml:"-"`
		ContractName    string            `yaml:"contract_name"`
		ContractFile    string            `yaml:"contract_file,omitempty"`
		Arguments       map[string]any    `yaml:"arguments,omitempty"`
		Address         string            `yaml:"address,omitempty"`
		ConstructorArgs string            `yaml:"constructor_args,omitempty"`
		Libraries       map[string]string `yaml:"libraries,omitempty"`
		EtherscanLink   string            `yaml:"etherscan_link,omitempty"`
	}

	// ContractSet keeps contract specs in declaration order, which is also the
	// deploy order.
	ContractSet struct {
		specs []*ContractSpec
		index map[string]int
	}

	Environment struct {
		Name                string      `yaml:"-"`
		Chain               string      `yaml:"chain"`
		VerifyOnEtherscan   bool        `yaml:"verify_on_etherscan"`
		UnlockDeployAddress bool        `yaml:"unlock_deploy_address"`
		Contracts           ContractSet `yaml:"contracts"`
		PostActions         string      `yaml:"post_actions,omitempty"`
		VerifyActions       string      `yaml:"verify_actions,omitempty"`
	}

	// Document is a whole deployment file: environments in file order.
	Document struct {
		Environments []*Environment
	}
)

func (s *ContractSpec) Deployed() bool { return s.Address != "" }

func (s *ContractSet) Add(spec *ContractSpec) error {
	if s.index == nil {
		s.index = map[string]int{}
	}
	if _, ok := s.index[spec.Name]; ok {
		return fmt.Errorf("%w: contract %q", ErrDuplicateName, spec.Name)
	}
	s.index[spec.Name] = len(s.specs)
	s.specs = append(s.specs, spec)
	return nil
}

func (s *ContractSet) All() []*ContractSpec { return s.specs }

func (s *ContractSet) Len() int { return len(s.specs) }

func (s *ContractSet) Get(name string) (*ContractSpec, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.specs[i], true
}

func (s *ContractSet) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: contracts must be a mapping", node.Line)
	}
	*s = ContractSet{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		spec := &ContractSpec{}
		if err := node.Content[i+1].Decode(spec); err != nil {
			return fmt.Errorf("contract %s: %w", node.Content[i].Value, err)
		}
		spec.Name = node.Content[i].Value
		if err := s.Add(spec); err != nil {
			return fmt.Errorf("line %d: %w", node.Content[i].Line, err)
		}
	}
	return nil
}

func (s ContractSet) MarshalYAML() (any, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, spec := range s.specs {
		v := &yaml.Node{}
		if err := v.Encode(spec); err != nil {
			return nil, fmt.Errorf("encode contract %s: %w", spec.Name, err)
		}
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: spec.Name}, v)
	}
	return n, nil
}

func (d *Document) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: deployment document must be a mapping of environments", node.Line)
	}
	d.Environments = nil
	seen := map[string]bool{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		if seen[name] {
			return fmt.Errorf("line %d: %w: environment %q", node.Content[i].Line, ErrDuplicateName, name)
		}
		seen[name] = true
		env := &Environment{}
		if err := node.Content[i+1].Decode(env); err != nil {
			return fmt.Errorf("environment %s: %w", name, err)
		}
		env.Name = name
		d.Environments = append(d.Environments, env)
	}
	return nil
}

func (d Document) MarshalYAML() (any, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, env := range d.Environments {
		v := &yaml.Node{}
		if err := v.Encode(env); err != nil {
			return nil, fmt.Errorf("encode environment %s: %w", env.Name, err)
		}
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: env.Name}, v)
	}
	return n, nil
}

func (d *Document) Environment(name string) (*Environment, error) {
	for _, env := range d.Environments {
		if env.Name == name {
			return env, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEnvironment, name)
}

func Parse(data []byte) (*Document, error) {
	var d Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse deployment document: %w", err)
	}
	for _, env := range d.Environments {
		if err := env.Validate(); err != nil {
			return nil, fmt.Errorf("environment %s: %w", env.Name, err)
		}
	}
	return &d, nil
}

func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deployment document: %w", err)
	}
	return Parse(data)
}

func (d *Document) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return err
	}
	return enc.Close()
}

func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
