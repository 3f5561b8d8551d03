package chain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrArgType  = errors.New("cannot convert argument")
	ErrArgCount = errors.New("wrong number of arguments")

	bigType = reflect.TypeOf(&big.Int{})
)

// PackArgs converts loosely typed values (as found in YAML documents and
// action scripts) to the Go types the ABI encoder expects, then packs them.
func PackArgs(args abi.Arguments, vals []any) ([]byte, error) {
	converted, err := ConvertArgs(args, vals)
	if err != nil {
		return nil, err
	}
	return args.Pack(converted...)
}

func ConvertArgs(args abi.Arguments, vals []any) ([]any, error) {
	if len(args) != len(vals) {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrArgCount, len(args), len(vals))
	}
	out := make([]any, len(vals))
	for i, arg := range args {
		v, err := ConvertArg(arg.Type, vals[i])
		if err != nil {
			name := arg.Name
			if name == "" {
				name = strconv.Itoa(i)
			}
			return nil, fmt.Errorf("argument %s: %w", name, err)
		}
		out[i] = v
	}
	return out, nil
}

func ConvertArg(t abi.Type, v any) (any, error) {
	switch t.T {
	case abi.AddressTy:
		return toAddress(v)
	case abi.BoolTy:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			if p, err := strconv.ParseBool(b); err == nil {
				return p, nil
			}
		}
	case abi.StringTy:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	case abi.IntTy, abi.UintTy:
		n, err := ToBig(v)
		if err != nil {
			return nil, err
		}
		return sizedInt(t, n)
	case abi.BytesTy:
		return toBytes(v)
	case abi.FixedBytesTy:
		b, err := toBytes(v)
		if err != nil {
			return nil, err
		}
		if len(b) > t.Size {
			return nil, fmt.Errorf("%w: %d bytes do not fit %s", ErrArgType, len(b), t.String())
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface(), nil
	case abi.SliceTy, abi.ArrayTy:
		items, ok := v.([]any)
		if !ok {
			break
		}
		if t.T == abi.ArrayTy && len(items) != t.Size {
			return nil, fmt.Errorf("%w: %s needs %d items, got %d", ErrArgType, t.String(), t.Size, len(items))
		}
		var out reflect.Value
		if t.T == abi.ArrayTy {
			out = reflect.New(t.GetType()).Elem()
		} else {
			out = reflect.MakeSlice(t.GetType(), len(items), len(items))
		}
		for i, item := range items {
			cv, err := ConvertArg(*t.Elem, item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out.Index(i).Set(reflect.ValueOf(cv))
		}
		return out.Interface(), nil
	}
	return nil, fmt.Errorf("%w: %T to %s", ErrArgType, v, t.String())
}

func toAddress(v any) (common.Address, error) {
	switch a := v.(type) {
	case common.Address:
		return a, nil
	case *common.Address:
		return *a, nil
	case string:
		if common.IsHexAddress(a) {
			return common.HexToAddress(a), nil
		}
	}
	return common.Address{}, fmt.Errorf("%w: %v is not an address", ErrArgType, v)
}

func toBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		out, err := hex.DecodeString(strings.TrimPrefix(b, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not hex", ErrArgType, b)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %T to bytes", ErrArgType, v)
}

// ToBig converts integers, integral floats and decimal or 0x strings.
func ToBig(v any) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		return new(big.Int).Set(n), nil
	case int:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case uint8:
		return big.NewInt(int64(n)), nil
	case float64:
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("%w: %v is not an integer", ErrArgType, n)
		}
		return decimal.NewFromFloat(n).BigInt(), nil
	case decimal.Decimal:
		if !n.Equal(n.Truncate(0)) {
			return nil, fmt.Errorf("%w: %s is not an integer", ErrArgType, n)
		}
		return n.BigInt(), nil
	case string:
		s := strings.TrimSpace(n)
		if strings.HasPrefix(s, "0x") {
			if out, ok := new(big.Int).SetString(s[2:], 16); ok {
				return out, nil
			}
		} else if out, ok := new(big.Int).SetString(s, 10); ok {
			return out, nil
		}
		return nil, fmt.Errorf("%w: %q is not an integer", ErrArgType, n)
	}
	return nil, fmt.Errorf("%w: %T to integer", ErrArgType, v)
}

func sizedInt(t abi.Type, n *big.Int) (any, error) {
	if t.T == abi.UintTy && n.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative value for %s", ErrArgType, t.String())
	}
	limit := t.Size
	if t.T == abi.IntTy {
		limit--
	}
	if n.BitLen() > limit {
		return nil, fmt.Errorf("%w: %s overflows %s", ErrArgType, n, t.String())
	}
	typ := t.GetType()
	if typ == bigType {
		return n, nil
	}
	out := reflect.New(typ).Elem()
	if t.T == abi.UintTy {
		out.SetUint(n.Uint64())
	} else {
		out.SetInt(n.Int64())
	}
	return out.Interface(), nil
}

// Normalize widens decoded ABI values for comparison: sized integers become
// *big.Int and fixed byte arrays become slices.
func Normalize(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return new(big.Int).SetUint64(rv.Uint())
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return big.NewInt(rv.Int())
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 && rv.Type() != reflect.TypeOf(common.Address{}) {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return b
		}
	}
	return v
}
