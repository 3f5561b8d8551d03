package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var ErrDeployOrder = errors.New("deployed contracts must form a prefix of the declaration order")

var isAddress = validation.By(func(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if !common.IsHexAddress(s) {
		return fmt.Errorf("%q is not an address", s)
	}
	return nil
})

var isHexBlob = validation.By(func(value any) error {
	s, _ := value.(string)
	if _, err := hex.DecodeString(strings.TrimPrefix(s, "0x")); err != nil {
		return fmt.Errorf("not hex: %w", err)
	}
	return nil
})

func (s *ContractSpec) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.ContractName, validation.Required),
		validation.Field(&s.Address, isAddress),
		validation.Field(&s.ConstructorArgs, isHexBlob),
		validation.Field(&s.Libraries, validation.Each(validation.Required, isAddress)),
	)
}

func (e *Environment) Validate() error {
	if err := validation.ValidateStruct(e,
		validation.Field(&e.Chain, validation.Required),
	); err != nil {
		return err
	}
	pending := ""
	for _, spec := range e.Contracts.All() {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("contract %s: %w", spec.Name, err)
		}
		switch {
		case !spec.Deployed() && pending == "":
			pending = spec.Name
		case spec.Deployed() && pending != "":
			return fmt.Errorf("%w: %s has an address but %s does not", ErrDeployOrder, spec.Name, pending)
		}
	}
	return nil
}
