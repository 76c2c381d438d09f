package functions

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/crystal-mush/mushcode/pkg/eval"
)

var (
	toFloat  = eval.ToFloat
	toInt    = eval.ToInt
	fmtFloat = eval.FormatFloat
)

func intResult(c *eval.Call, n int) (eval.CallState, error) {
	return c.ResultString(itoa(n))
}

func floatResult(c *eval.Call, f float64) (eval.CallState, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return c.Error("ILLEGAL VALUE")
	}
	return c.ResultString(fmtFloat(f))
}

func boolResult(c *eval.Call, b bool) (eval.CallState, error) {
	return c.Result(eval.BoolText(b))
}

// --- Arithmetic ---

// add(), sub() and mul() compute in floating point and truncate, as the
// integer functions always have.
func fnAdd(_ context.Context, c *eval.Call) (eval.CallState, error) {
	sum := 0.0
	for i := range c.Args {
		sum += toFloat(c.Str(i))
	}
	return intResult(c, int(sum))
}

func fnSub(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return intResult(c, int(toFloat(c.Str(0))-toFloat(c.Str(1))))
}

func fnMul(_ context.Context, c *eval.Call) (eval.CallState, error) {
	prod := 1.0
	for i := range c.Args {
		prod *= toFloat(c.Str(i))
	}
	return intResult(c, int(prod))
}

func fnDiv(_ context.Context, c *eval.Call) (eval.CallState, error) {
	b := toInt(c.Str(1))
	if b == 0 {
		return c.Error("DIVIDE BY ZERO")
	}
	return intResult(c, toInt(c.Str(0))/b)
}

func fnMod(_ context.Context, c *eval.Call) (eval.CallState, error) {
	b := toInt(c.Str(1))
	if b == 0 {
		return c.Error("DIVIDE BY ZERO")
	}
	return intResult(c, toInt(c.Str(0))%b)
}

func fnFadd(_ context.Context, c *eval.Call) (eval.CallState, error) {
	sum := 0.0
	for i := range c.Args {
		sum += toFloat(c.Str(i))
	}
	return floatResult(c, sum)
}

func fnFsub(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return floatResult(c, toFloat(c.Str(0))-toFloat(c.Str(1)))
}

func fnFmul(_ context.Context, c *eval.Call) (eval.CallState, error) {
	prod := 1.0
	for i := range c.Args {
		prod *= toFloat(c.Str(i))
	}
	return floatResult(c, prod)
}

func fnFdiv(_ context.Context, c *eval.Call) (eval.CallState, error) {
	b := toFloat(c.Str(1))
	if b == 0 {
		return c.Error("DIVIDE BY ZERO")
	}
	return floatResult(c, toFloat(c.Str(0))/b)
}

func fnAbs(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return floatResult(c, math.Abs(toFloat(c.Str(0))))
}

func fnSign(_ context.Context, c *eval.Call) (eval.CallState, error) {
	f := toFloat(c.Str(0))
	switch {
	case f < 0:
		return intResult(c, -1)
	case f > 0:
		return intResult(c, 1)
	}
	return intResult(c, 0)
}

func fnMax(_ context.Context, c *eval.Call) (eval.CallState, error) {
	best := toFloat(c.Str(0))
	for i := 1; i < c.NArgs(); i++ {
		best = math.Max(best, toFloat(c.Str(i)))
	}
	return floatResult(c, best)
}

func fnMin(_ context.Context, c *eval.Call) (eval.CallState, error) {
	best := toFloat(c.Str(0))
	for i := 1; i < c.NArgs(); i++ {
		best = math.Min(best, toFloat(c.Str(i)))
	}
	return floatResult(c, best)
}

func fnInc(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return intResult(c, toInt(c.Str(0))+1)
}

func fnDec(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return intResult(c, toInt(c.Str(0))-1)
}

// round(number[, places])
func fnRound(_ context.Context, c *eval.Call) (eval.CallState, error) {
	places := 0
	if c.NArgs() > 1 {
		places = max(0, min(toInt(c.Str(1)), 6))
	}
	scale := math.Pow(10, float64(places))
	return floatResult(c, math.Round(toFloat(c.Str(0))*scale)/scale)
}

func fnTrunc(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return floatResult(c, math.Trunc(toFloat(c.Str(0))))
}

func fnFloor(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return floatResult(c, math.Floor(toFloat(c.Str(0))))
}

func fnCeil(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return floatResult(c, math.Ceil(toFloat(c.Str(0))))
}

// --- Comparison ---

func compare(op func(a, b float64) bool) eval.Handler {
	return func(_ context.Context, c *eval.Call) (eval.CallState, error) {
		return boolResult(c, op(toFloat(c.Str(0)), toFloat(c.Str(1))))
	}
}

var (
	fnGt  = compare(func(a, b float64) bool { return a > b })
	fnGte = compare(func(a, b float64) bool { return a >= b })
	fnLt  = compare(func(a, b float64) bool { return a < b })
	fnLte = compare(func(a, b float64) bool { return a <= b })
	fnEq  = compare(func(a, b float64) bool { return a == b })
	fnNeq = compare(func(a, b float64) bool { return a != b })
)

func fnIsnum(_ context.Context, c *eval.Call) (eval.CallState, error) {
	s := c.Str(0)
	return boolResult(c, s != "" && eval.IsNumber(s))
}

func fnIsint(_ context.Context, c *eval.Call) (eval.CallState, error) {
	s := c.Str(0)
	return boolResult(c, s != "" && eval.IsInteger(s))
}

// rand(n) returns 0..n-1; rand(lo, hi) returns lo..hi.
func fnRand(_ context.Context, c *eval.Call) (eval.CallState, error) {
	if c.NArgs() == 2 {
		lo, hi := toInt(c.Str(0)), toInt(c.Str(1))
		if hi < lo {
			return c.Error("INVALID RANGE")
		}
		// width in uint64 so the full int range does not overflow
		w := uint64(hi) - uint64(lo)
		if w == math.MaxUint64 {
			return intResult(c, int(rand.Uint64()))
		}
		return intResult(c, int(uint64(lo)+rand.Uint64N(w+1)))
	}
	n := toInt(c.Str(0))
	if n <= 0 {
		return c.Error("ARGUMENT MUST BE POSITIVE")
	}
	return intResult(c, rand.IntN(n))
}
