package chaintest

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lmittmann/w3"
)

var ErrUnknownSelector = errors.New("unknown function selector")

// Env is the execution environment of one simulated call.
type Env struct {
	Backend *Backend
	From    common.Address
	Self    common.Address
	Value   *big.Int
	View    bool
	logs    []*types.Log
}

// Emit records an event log from the executing contract.
func (e *Env) Emit(ev *w3.Event, args ...any) error {
	log, err := EncodeLog(e.Self, ev, args...)
	if err != nil {
		return err
	}
	e.logs = append(e.logs, log)
	return nil
}

// EncodeLog builds a log for ev, putting indexed args in topics.
func EncodeLog(addr common.Address, ev *w3.Event, args ...any) (*types.Log, error) {
	if len(args) != len(ev.Args) {
		return nil, fmt.Errorf("%s: want %d args, got %d", ev.Signature, len(ev.Args), len(args))
	}
	topics := []common.Hash{ev.Topic0}
	var data []any
	for i, arg := range ev.Args {
		if !arg.Indexed {
			data = append(data, args[i])
			continue
		}
		switch v := args[i].(type) {
		case common.Address:
			topics = append(topics, common.BytesToHash(v.Bytes()))
		case *big.Int:
			topics = append(topics, common.BigToHash(v))
		default:
			return nil, fmt.Errorf("%s: unsupported indexed arg %T", ev.Signature, v)
		}
	}
	packed, err := ev.Args.NonIndexed().Pack(data...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", ev.Signature, err)
	}
	return &types.Log{Address: addr, Topics: topics, Data: packed}, nil
}

// Method dispatches calldata to a handler by selector.
type Method struct {
	Func    *w3.Func
	Handler func(env *Env, args []any) ([]any, error)
}

func dispatch(env *Env, input []byte, methods []Method) ([]byte, error) {
	if len(input) < 4 {
		return nil, ErrUnknownSelector
	}
	for _, m := range methods {
		if !bytes.Equal(m.Func.Selector[:], input[:4]) {
			continue
		}
		args, err := m.Func.Args.Unpack(input[4:])
		if err != nil {
			return nil, fmt.Errorf("unpack %s: %w", m.Func.Signature, err)
		}
		rets, err := m.Handler(env, args)
		if err != nil {
			return nil, err
		}
		return m.Func.Returns.Pack(rets...)
	}
	return nil, fmt.Errorf("%w: %x", ErrUnknownSelector, input[:4])
}

func check(cond bool, msg string) error {
	if !cond {
		return errors.New(msg)
	}
	return nil
}
