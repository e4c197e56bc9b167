// Package expr evaluates per-column derivation expressions against source
// rows inside a sandboxed Starlark interpreter.
//
// The grammar available to job authors is deliberately bounded: arithmetic,
// string operations, comparisons, conditionals (x if cond else y), and column
// references as bare identifiers. There is no load statement, no filesystem
// or network access, and evaluation is capped by an execution-step budget, so
// a malformed or hostile expression can slow one row down but cannot touch
// anything outside it.
//
// Example expressions:
//
//	price * quantity
//	first_name.strip() + " " + last_name.strip()
//	"GOLD" if lifetime_value > 10000 else "STANDARD"
//	coalesce(nickname, first_name)
package expr

import (
	"fmt"
	"math"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// maxSteps bounds the interpreter work per evaluation. Derivations are tiny;
// anything that hits this budget is a runaway expression.
const maxSteps = 10_000

// Program is a compiled derivation expression. Compile once per column
// mapping; Eval is safe for concurrent use from multiple workers.
type Program struct {
	src  string
	expr syntax.Expr
}

var fileOpts = &syntax.FileOptions{}

// Compile parses src as a single expression. Statements, load, and
// assignments are rejected by the parser.
func Compile(src string) (*Program, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("expr: empty expression")
	}
	e, err := fileOpts.ParseExpr("expr", src, 0)
	if err != nil {
		return nil, fmt.Errorf("expr: parse %q: %w", src, err)
	}
	return &Program{src: src, expr: e}, nil
}

// Source returns the original expression text.
func (p *Program) Source() string { return p.src }

// Eval evaluates the expression with the given source row bound as
// identifiers. Unknown identifiers fail the evaluation (and therefore the
// row), they do not silently become None.
func (p *Program) Eval(row map[string]any) (any, error) {
	env := make(starlark.StringDict, len(row)+1)
	for k, v := range row {
		sv, err := toStarlark(v)
		if err != nil {
			return nil, fmt.Errorf("expr: column %q: %w", k, err)
		}
		env[k] = sv
	}
	env["coalesce"] = coalesceBuiltin

	thread := &starlark.Thread{Name: "derivation"}
	thread.SetMaxExecutionSteps(maxSteps)

	out, err := starlark.EvalExprOptions(fileOpts, thread, p.expr, env)
	if err != nil {
		return nil, fmt.Errorf("expr: eval %q: %w", p.src, err)
	}
	return fromStarlark(out)
}

// coalesceBuiltin returns its first non-None argument, or None.
var coalesceBuiltin = starlark.NewBuiltin("coalesce",
	func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("coalesce: unexpected keyword arguments")
		}
		for _, a := range args {
			if a != starlark.None {
				return a, nil
			}
		}
		return starlark.None, nil
	})

func toStarlark(v any) (starlark.Value, error) {
	switch t := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(t), nil
	case int:
		return starlark.MakeInt(t), nil
	case int32:
		return starlark.MakeInt64(int64(t)), nil
	case int64:
		return starlark.MakeInt64(t), nil
	case float32:
		return starlark.Float(float64(t)), nil
	case float64:
		return starlark.Float(t), nil
	case string:
		return starlark.String(t), nil
	case []byte:
		return starlark.String(string(t)), nil
	case time.Time:
		// Expressions see timestamps as RFC3339 text; date arithmetic
		// belongs in SQL, not in derivations.
		return starlark.String(t.Format(time.RFC3339Nano)), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func fromStarlark(v starlark.Value) (any, error) {
	switch t := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(t), nil
	case starlark.Int:
		i, ok := t.Int64()
		if !ok {
			return nil, fmt.Errorf("expr: integer result out of int64 range")
		}
		return i, nil
	case starlark.Float:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("expr: non-finite float result")
		}
		return f, nil
	case starlark.String:
		return string(t), nil
	default:
		return nil, fmt.Errorf("expr: unsupported result type %s", v.Type())
	}
}
