package chart

import (
	"fmt"
	"math"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/nsls2/ariadne/internal/bluesky"
)

// functions available inside column expressions. log is the natural
// logarithm.
var functions = map[string]any{
	"log":   math.Log,
	"log10": math.Log10,
	"exp":   math.Exp,
	"sqrt":  math.Sqrt,
}

// Expression is a compiled column expression such as "log(I0/It)" or
// "(Fe1+Fe2+Fe3+Fe4)/I0". Identifiers refer to stream columns.
type Expression struct {
	src  string
	prog *vm.Program
}

// Compile parses src. Unknown identifiers are accepted at compile time and
// resolved against the stream columns at evaluation time.
func Compile(src string) (*Expression, error) {
	env := make(map[string]any, len(functions))
	for name, fn := range functions {
		env[name] = fn
	}
	prog, err := expr.Compile(src, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", src, err)
	}
	return &Expression{src: src, prog: prog}, nil
}

// String returns the expression source.
func (e *Expression) String() string { return e.src }

// Eval evaluates the expression for every row of the stream. Rows whose
// evaluation yields a non-numeric result are reported as an error; numeric
// results that are not finite (log of zero, division by zero) are kept as
// they are and filtered at render time.
func (e *Expression) Eval(stream *bluesky.Stream) ([]float64, error) {
	columns := stream.Columns()
	values := make(map[string][]float64, len(columns))
	for _, name := range columns {
		values[name], _ = stream.Column(name)
	}

	env := make(map[string]any, len(functions)+len(columns))
	for name, fn := range functions {
		env[name] = fn
	}

	out := make([]float64, stream.Len())
	for i := range out {
		for name, col := range values {
			env[name] = col[i]
		}
		result, err := expr.Run(e.prog, env)
		if err != nil {
			return nil, fmt.Errorf("evaluate %q at row %d: %w", e.src, i, err)
		}
		switch v := result.(type) {
		case float64:
			out[i] = v
		case int:
			out[i] = float64(v)
		default:
			return nil, fmt.Errorf("evaluate %q at row %d: result is %T, not a number", e.src, i, result)
		}
	}
	return out, nil
}
