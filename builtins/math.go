package builtins

import (
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/Oliver2213/moor/types"
)

func registerMath(r *Registry) {
	r.Register("abs", 1, 1, bfAbs)
	r.Register("min", 1, -1, bfMin)
	r.Register("max", 1, -1, bfMax)
	r.Register("random", 0, 1, bfRandom)
	r.Register("frandom", 0, 0, bfFrandom)
	r.Register("sqrt", 1, 1, mathFn1(math.Sqrt))
	r.Register("sin", 1, 1, mathFn1(math.Sin))
	r.Register("cos", 1, 1, mathFn1(math.Cos))
	r.Register("tan", 1, 1, mathFn1(math.Tan))
	r.Register("asin", 1, 1, mathFn1(math.Asin))
	r.Register("acos", 1, 1, mathFn1(math.Acos))
	r.Register("atan", 1, 1, mathFn1(math.Atan))
	r.Register("exp", 1, 1, mathFn1(math.Exp))
	r.Register("log", 1, 1, mathFn1(math.Log))
	r.Register("log10", 1, 1, mathFn1(math.Log10))
	r.Register("floor", 1, 1, mathFn1(math.Floor))
	r.Register("ceil", 1, 1, mathFn1(math.Ceil))
	r.Register("floatstr", 2, 3, bfFloatstr)
}

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func wantNum(v types.Value) (float64, bool) {
	switch n := v.(type) {
	case types.IntValue:
		return float64(n.Val), true
	case types.FloatValue:
		return n.Val, true
	}
	return 0, false
}

func bfAbs(ctx *Context, args []types.Value) Result {
	switch v := args[0].(type) {
	case types.IntValue:
		if v.Val < 0 {
			return Ok(types.NewInt(-v.Val))
		}
		return Ok(v)
	case types.FloatValue:
		return Ok(types.NewFloat(math.Abs(v.Val)))
	}
	return Raise(types.E_TYPE)
}

func extremum(args []types.Value, wantGreater bool) Result {
	best := args[0]
	for _, a := range args[1:] {
		c, ok := types.Compare(a, best)
		if !ok {
			return Raise(types.E_TYPE)
		}
		if (wantGreater && c > 0) || (!wantGreater && c < 0) {
			best = a
		}
	}
	return Ok(best)
}

func bfMin(ctx *Context, args []types.Value) Result {
	return extremum(args, false)
}

func bfMax(ctx *Context, args []types.Value) Result {
	return extremum(args, true)
}

// random() yields 1..maxint; random(n) yields 1..n.
func bfRandom(ctx *Context, args []types.Value) Result {
	limit := int64(math.MaxInt64)
	if len(args) > 0 {
		n, ok := args[0].(types.IntValue)
		if !ok {
			return Raise(types.E_TYPE)
		}
		if n.Val < 1 {
			return Raise(types.E_INVARG)
		}
		limit = n.Val
	}
	rngMu.Lock()
	v := rng.Int63n(limit) + 1
	rngMu.Unlock()
	return Ok(types.NewInt(v))
}

func bfFrandom(ctx *Context, args []types.Value) Result {
	rngMu.Lock()
	v := rng.Float64()
	rngMu.Unlock()
	return Ok(types.NewFloat(v))
}

func mathFn1(fn func(float64) float64) Func {
	return func(ctx *Context, args []types.Value) Result {
		x, ok := wantNum(args[0])
		if !ok {
			return Raise(types.E_TYPE)
		}
		out := fn(x)
		if math.IsNaN(out) || math.IsInf(out, 0) {
			return Raise(types.E_FLOAT)
		}
		return Ok(types.NewFloat(out))
	}
}

// floatstr(x, precision [, scientific])
func bfFloatstr(ctx *Context, args []types.Value) Result {
	x, ok := wantNum(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	prec, ok := wantInt(args[1])
	if !ok {
		return Raise(types.E_TYPE)
	}
	if prec < 0 || prec > 19 {
		return Raise(types.E_INVARG)
	}
	format := byte('f')
	if len(args) > 2 && args[2].Truthy() {
		format = 'e'
	}
	return Ok(types.NewStr(strconv.FormatFloat(x, format, prec, 64)))
}
