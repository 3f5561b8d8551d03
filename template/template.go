// Package template expands {{ }} expressions inside configuration trees
// against the addresses of already deployed contracts.
package template

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cosmo-local-credit/saleops/config"
)

const Marker = "{{"

var ErrUnitUnknown = errors.New("unknown unit")

var weiUnits = map[string]int32{
	"wei":    0,
	"kwei":   3,
	"mwei":   6,
	"gwei":   9,
	"szabo":  12,
	"finney": 15,
	"ether":  18,
}

// Error reports the tree path of the node that failed to expand.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("expand %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Context is the data visible to expressions. Contracts that are not deployed
// yet carry no address key, so referencing one fails.
type Context struct {
	data  map[string]any
	funcs texttemplate.FuncMap
}

func NewContext(contracts *config.ContractSet, now func() time.Time) *Context {
	if now == nil {
		now = time.Now
	}
	c := &Context{data: map[string]any{"contracts": ContractsView(contracts)}}
	c.funcs = texttemplate.FuncMap{
		"time":      func() int64 { return now().Unix() },
		"datetime":  Datetime,
		"timestamp": func(t time.Time) int64 { return t.Unix() },
		"to_wei":    ToWei,
	}
	return c
}

// ContractsView renders specs as plain maps for expression lookup.
func ContractsView(contracts *config.ContractSet) map[string]any {
	view := map[string]any{}
	if contracts == nil {
		return view
	}
	for _, spec := range contracts.All() {
		entry := map[string]any{
			"contract_name": spec.ContractName,
			"contract_file": spec.ContractFile,
		}
		if spec.Deployed() {
			entry["address"] = spec.Address
			entry["constructor_args"] = spec.ConstructorArgs
			libs := map[string]any{}
			for k, v := range spec.Libraries {
				libs[k] = v
			}
			entry["libraries"] = libs
		}
		view[spec.Name] = entry
	}
	return view
}

// Set exposes an extra top-level value, such as the deployer address.
func (c *Context) Set(key string, v any) {
	c.data[key] = v
}

func (c *Context) ExpandString(s string) (string, error) {
	if !strings.Contains(s, Marker) {
		return s, nil
	}
	t, err := texttemplate.New("").Option("missingkey=error").Funcs(c.funcs).Parse(s)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := t.Execute(&sb, c.data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Expand walks maps and sequences, expanding every string carrying the
// marker. Other values are returned unchanged. The input is not modified.
func (c *Context) Expand(v any, path string) (any, error) {
	switch val := v.(type) {
	case string:
		out, err := c.ExpandString(val)
		if err != nil {
			return nil, &Error{Path: path, Err: err}
		}
		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(val))
		for _, k := range keys {
			ev, err := c.Expand(val[k], join(path, k))
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			ev, err := c.Expand(item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	default:
		return v, nil
	}
}

// ExpandMap is Expand for an argument map.
func (c *Context) ExpandMap(m map[string]any, path string) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	out, err := c.Expand(m, path)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// Datetime builds a UTC time from year, month, day and optional hour,
// minute and second.
func Datetime(parts ...int) (time.Time, error) {
	if len(parts) < 3 || len(parts) > 6 {
		return time.Time{}, fmt.Errorf("datetime takes 3 to 6 arguments, got %d", len(parts))
	}
	p := append(append([]int{}, parts...), 0, 0, 0)
	return time.Date(p[0], time.Month(p[1]), p[2], p[3], p[4], p[5], 0, time.UTC), nil
}

// ToWei converts an amount in unit (ether, gwei, ...) to an integer wei
// amount.
func ToWei(amount any, unit string) (*big.Int, error) {
	exp, ok := weiUnits[strings.ToLower(unit)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnitUnknown, unit)
	}
	var (
		d   decimal.Decimal
		err error
	)
	switch v := amount.(type) {
	case int:
		d = decimal.NewFromInt(int64(v))
	case int64:
		d = decimal.NewFromInt(v)
	case float64:
		d = decimal.NewFromFloat(v)
	case string:
		d, err = decimal.NewFromString(v)
	case *big.Int:
		d = decimal.NewFromBigInt(v, 0)
	case decimal.Decimal:
		d = v
	default:
		err = fmt.Errorf("unsupported amount %T", amount)
	}
	if err != nil {
		return nil, err
	}
	wei := d.Shift(exp)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("%s %s is not a whole number of wei", d, unit)
	}
	return wei.BigInt(), nil
}
