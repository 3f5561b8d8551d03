// Package actions runs post-deploy wiring scripts. A script is a list of
// lines, each one of:
//
//	let NAME = EXPR
//	call CONTRACT.method(ARGS...) [value EXPR]
//	assert EXPR [OP EXPR]
//	print EXPR[, EXPR...]
//
// Expressions are literals, variables, contract names (their address when
// passed as arguments), CONTRACT.address, view calls CONTRACT.method(ARGS)
// and the helpers to_wei, time, timestamp, hex and address.
package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cosmo-local-credit/saleops/chain"
	"github.com/cosmo-local-credit/saleops/template"
)

var (
	ErrAssertion    = errors.New("assertion failed")
	ErrReadOnly     = errors.New("call is not allowed in verify actions")
	ErrUnknownName  = errors.New("unknown name")
	ErrUnknownFunc  = errors.New("unknown function")
	ErrNoABI        = errors.New("contract has no ABI")
	ErrNotAContract = errors.New("not a contract")
)

// Error names the script line that failed.
type Error struct {
	Line int
	Text string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("line %d `%s`: %v", e.Line, e.Text, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type (
	// Handle is a live contract reachable by its logical name.
	Handle struct {
		Name    string
		Address common.Address
		ABI     *abi.ABI
	}

	Options struct {
		GasLimit uint64
		GasPrice *big.Int
		Out      io.Writer
		Now      func() time.Time
	}

	Runner struct {
		gw      chain.Gateway
		handles map[string]Handle
		vars    map[string]any
		opts    Options
		lggr    *zap.SugaredLogger
	}
)

func NewRunner(gw chain.Gateway, handles []Handle, opts Options, lggr *zap.SugaredLogger) *Runner {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.GasLimit == 0 {
		opts.GasLimit = 500_000
	}
	r := &Runner{gw: gw, handles: map[string]Handle{}, vars: map[string]any{}, opts: opts, lggr: lggr}
	for _, h := range handles {
		r.handles[h.Name] = h
	}
	return r
}

// Var returns a variable bound by a let statement.
func (r *Runner) Var(name string) (any, bool) {
	v, ok := r.vars[name]
	return v, ok
}

// Run executes a script, stopping at the first failing line.
func (r *Runner) Run(ctx context.Context, script string) error {
	return r.run(ctx, script, false)
}

// Verify executes a script in which call statements are rejected.
func (r *Runner) Verify(ctx context.Context, script string) error {
	return r.run(ctx, script, true)
}

func (r *Runner) run(ctx context.Context, script string, readOnly bool) error {
	stmts, err := Parse(script)
	if err != nil {
		return err
	}
	for _, st := range stmts {
		if err := r.exec(ctx, st, readOnly); err != nil {
			return &Error{Line: st.Line, Text: st.Text, Err: err}
		}
	}
	return nil
}

func (r *Runner) exec(ctx context.Context, st Stmt, readOnly bool) error {
	switch st.kind {
	case stmtLet:
		v, err := r.eval(ctx, st.x)
		if err != nil {
			return err
		}
		r.vars[st.name] = v
	case stmtCall:
		if readOnly {
			return ErrReadOnly
		}
		return r.transact(ctx, st)
	case stmtAssert:
		return r.assert(ctx, st)
	case stmtPrint:
		parts := make([]string, len(st.args))
		for i, a := range st.args {
			v, err := r.eval(ctx, a)
			if err != nil {
				return err
			}
			parts[i] = format(v)
		}
		line := strings.Join(parts, " ")
		r.lggr.Infow("Action output", "line", st.Line, "text", line)
		_, err := fmt.Fprintln(r.opts.Out, line)
		return err
	}
	return nil
}

func (r *Runner) transact(ctx context.Context, st Stmt) error {
	c := st.x.(callExpr)
	h, method, input, err := r.encodeCall(ctx, c)
	if err != nil {
		return err
	}
	tx := chain.Tx{To: &h.Address, Data: input, GasLimit: r.opts.GasLimit, GasPrice: r.opts.GasPrice}
	if st.value != nil {
		v, err := r.eval(ctx, st.value)
		if err != nil {
			return err
		}
		if tx.Value, err = chain.ToBig(v); err != nil {
			return err
		}
	}
	receipt, err := chain.SendAndWait(ctx, r.gw, tx, chain.DefaultReceiptTimeout)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", h.Name, method.Name, err)
	}
	r.lggr.Infow("Action transaction mined", "line", st.Line, "contract", h.Name, "method", method.Name, "tx", receipt.TxHash.Hex(), "gasUsed", receipt.GasUsed)
	return nil
}

func (r *Runner) assert(ctx context.Context, st Stmt) error {
	x, err := r.eval(ctx, st.x)
	if err != nil {
		return err
	}
	if st.op == "" {
		if b, ok := x.(bool); ok && b {
			return nil
		}
		return fmt.Errorf("%w: got %s", ErrAssertion, format(x))
	}
	y, err := r.eval(ctx, st.y)
	if err != nil {
		return err
	}
	ok, err := compare(x, st.op, y)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s %s %s", ErrAssertion, format(x), st.op, format(y))
	}
	return nil
}

func (r *Runner) eval(ctx context.Context, e expr) (any, error) {
	switch x := e.(type) {
	case lit:
		return x.val, nil
	case ident:
		if v, ok := r.vars[x.name]; ok {
			return v, nil
		}
		if h, ok := r.handles[x.name]; ok {
			return h, nil
		}
		if x.name == "deployer" {
			return r.gw.Account(), nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownName, x.name)
	case member:
		v, err := r.eval(ctx, x.x)
		if err != nil {
			return nil, err
		}
		h, ok := v.(Handle)
		if !ok || x.name != "address" {
			return nil, fmt.Errorf("%w: .%s", ErrUnknownName, x.name)
		}
		return h.Address, nil
	case callExpr:
		if fn, ok := x.fn.(ident); ok {
			args, err := r.evalArgs(ctx, x.args)
			if err != nil {
				return nil, err
			}
			return r.helper(fn.name, args)
		}
		return r.view(ctx, x)
	}
	return nil, fmt.Errorf("%w: unsupported expression", ErrSyntax)
}

func (r *Runner) evalArgs(ctx context.Context, exprs []expr) ([]any, error) {
	args := make([]any, len(exprs))
	for i, a := range exprs {
		v, err := r.eval(ctx, a)
		if err != nil {
			return nil, err
		}
		if h, ok := v.(Handle); ok {
			v = h.Address
		}
		args[i] = v
	}
	return args, nil
}

func (r *Runner) encodeCall(ctx context.Context, c callExpr) (Handle, abi.Method, []byte, error) {
	m, ok := c.fn.(member)
	if !ok {
		return Handle{}, abi.Method{}, nil, fmt.Errorf("%w: only CONTRACT.method(...) can be called", ErrNotAContract)
	}
	v, err := r.eval(ctx, m.x)
	if err != nil {
		return Handle{}, abi.Method{}, nil, err
	}
	h, ok := v.(Handle)
	if !ok {
		return Handle{}, abi.Method{}, nil, fmt.Errorf("%w: %s", ErrNotAContract, format(v))
	}
	if h.ABI == nil {
		return h, abi.Method{}, nil, fmt.Errorf("%w: %s", ErrNoABI, h.Name)
	}
	method, ok := h.ABI.Methods[m.name]
	if !ok {
		return h, abi.Method{}, nil, fmt.Errorf("%w: %s.%s", ErrUnknownFunc, h.Name, m.name)
	}
	args, err := r.evalArgs(ctx, c.args)
	if err != nil {
		return h, method, nil, err
	}
	packed, err := chain.PackArgs(method.Inputs, args)
	if err != nil {
		return h, method, nil, fmt.Errorf("%s.%s: %w", h.Name, m.name, err)
	}
	return h, method, append(append([]byte{}, method.ID...), packed...), nil
}

func (r *Runner) view(ctx context.Context, c callExpr) (any, error) {
	h, method, input, err := r.encodeCall(ctx, c)
	if err != nil {
		return nil, err
	}
	out, err := r.gw.Call(ctx, h.Address, input)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", h.Name, method.Name, err)
	}
	vals, err := method.Outputs.Unpack(out)
	if err != nil {
		return nil, fmt.Errorf("decode %s.%s: %w", h.Name, method.Name, err)
	}
	switch len(vals) {
	case 0:
		return nil, nil
	case 1:
		return chain.Normalize(vals[0]), nil
	}
	for i := range vals {
		vals[i] = chain.Normalize(vals[i])
	}
	return vals, nil
}

func (r *Runner) helper(name string, args []any) (any, error) {
	switch name {
	case "to_wei":
		if len(args) != 2 {
			return nil, fmt.Errorf("to_wei takes an amount and a unit")
		}
		unit, _ := args[1].(string)
		return template.ToWei(args[0], unit)
	case "time":
		return big.NewInt(r.opts.Now().Unix()), nil
	case "timestamp":
		parts := make([]int, len(args))
		for i, a := range args {
			n, err := chain.ToBig(a)
			if err != nil {
				return nil, err
			}
			parts[i] = int(n.Int64())
		}
		t, err := template.Datetime(parts...)
		if err != nil {
			return nil, err
		}
		return big.NewInt(t.Unix()), nil
	case "hex":
		if len(args) != 1 {
			return nil, fmt.Errorf("hex takes one argument")
		}
		s, _ := args[0].(string)
		return hexutil.Decode(s)
	case "address":
		if len(args) != 1 {
			return nil, fmt.Errorf("address takes one argument")
		}
		s, _ := args[0].(string)
		return chain.ParseAddress(s, false)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFunc, name)
}

func compare(x any, op string, y any) (bool, error) {
	if isNumber(x) || isNumber(y) {
		a, err := toDecimal(x)
		if err != nil {
			return false, err
		}
		b, err := toDecimal(y)
		if err != nil {
			return false, err
		}
		c := a.Cmp(b)
		switch op {
		case "==":
			return c == 0, nil
		case "!=":
			return c != 0, nil
		case ">=":
			return c >= 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		case "<":
			return c < 0, nil
		}
	}
	if op != "==" && op != "!=" {
		return false, fmt.Errorf("%s needs numbers, got %s and %s", op, format(x), format(y))
	}
	eq := equal(x, y)
	if op == "!=" {
		return !eq, nil
	}
	return eq, nil
}

func isNumber(v any) bool {
	switch v.(type) {
	case *big.Int, decimal.Decimal:
		return true
	}
	return false
}

func toDecimal(v any) (decimal.Decimal, error) {
	if d, ok := v.(decimal.Decimal); ok {
		return d, nil
	}
	n, err := chain.ToBig(v)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromBigInt(n, 0), nil
}

func equal(x, y any) bool {
	if h, ok := x.(Handle); ok {
		x = h.Address
	}
	if h, ok := y.(Handle); ok {
		y = h.Address
	}
	switch a := x.(type) {
	case common.Address:
		return addressEqual(a, y)
	case []byte:
		b, ok := y.([]byte)
		if !ok {
			s, _ := y.(string)
			b, _ = hexutil.Decode(s)
		}
		return bytes.Equal(a, b)
	}
	if a, ok := y.(common.Address); ok {
		return addressEqual(a, x)
	}
	if b, ok := y.([]byte); ok {
		return equal(b, x)
	}
	return fmt.Sprint(x) == fmt.Sprint(y)
}

func addressEqual(a common.Address, v any) bool {
	switch b := v.(type) {
	case common.Address:
		return a == b
	case string:
		return common.IsHexAddress(b) && common.HexToAddress(b) == a
	}
	return false
}

func format(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case common.Address:
		return x.Hex()
	case Handle:
		return x.Address.Hex()
	case []byte:
		return hexutil.Encode(x)
	case *big.Int:
		return x.String()
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = format(item)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
	return fmt.Sprint(v)
}
