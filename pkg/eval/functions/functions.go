// Package functions is the built-in MUSHcode function library.
package functions

import (
	"strconv"

	"github.com/crystal-mush/mushcode/pkg/eval"
)

const (
	noParse = eval.FnNoParse
	numeric = eval.FnNumeric | eval.FnStripMarkup
	plain   = eval.FnStripMarkup
	effect  = eval.FnSideEffect
)

type entry struct {
	name    string
	handler eval.Handler
	min     int
	max     int
	flags   int
	aliases []string
}

var builtins = []entry{
	// math
	{name: "add", handler: fnAdd, min: 2, max: -1, flags: numeric},
	{name: "sub", handler: fnSub, min: 2, max: 2, flags: numeric},
	{name: "mul", handler: fnMul, min: 2, max: -1, flags: numeric},
	{name: "div", handler: fnDiv, min: 2, max: 2, flags: numeric},
	{name: "mod", handler: fnMod, min: 2, max: 2, flags: numeric},
	{name: "abs", handler: fnAbs, min: 1, max: 1, flags: numeric},
	{name: "sign", handler: fnSign, min: 1, max: 1, flags: numeric},
	{name: "max", handler: fnMax, min: 1, max: -1, flags: numeric},
	{name: "min", handler: fnMin, min: 1, max: -1, flags: numeric},
	{name: "inc", handler: fnInc, min: 1, max: 1, flags: numeric},
	{name: "dec", handler: fnDec, min: 1, max: 1, flags: numeric},
	{name: "fadd", handler: fnFadd, min: 2, max: -1, flags: numeric},
	{name: "fsub", handler: fnFsub, min: 2, max: 2, flags: numeric},
	{name: "fmul", handler: fnFmul, min: 2, max: -1, flags: numeric},
	{name: "fdiv", handler: fnFdiv, min: 2, max: 2, flags: numeric},
	{name: "round", handler: fnRound, min: 1, max: 2, flags: numeric},
	{name: "trunc", handler: fnTrunc, min: 1, max: 1, flags: numeric},
	{name: "floor", handler: fnFloor, min: 1, max: 1, flags: numeric},
	{name: "ceil", handler: fnCeil, min: 1, max: 1, flags: numeric},
	{name: "gt", handler: fnGt, min: 2, max: 2, flags: plain},
	{name: "gte", handler: fnGte, min: 2, max: 2, flags: plain},
	{name: "lt", handler: fnLt, min: 2, max: 2, flags: plain},
	{name: "lte", handler: fnLte, min: 2, max: 2, flags: plain},
	{name: "eq", handler: fnEq, min: 2, max: 2, flags: plain},
	{name: "neq", handler: fnNeq, min: 2, max: 2, flags: plain},
	{name: "isnum", handler: fnIsnum, min: 1, max: 1, flags: plain},
	{name: "isint", handler: fnIsint, min: 1, max: 1, flags: plain},
	{name: "rand", handler: fnRand, min: 1, max: 2, flags: numeric},

	// logic
	{name: "and", handler: fnAnd, min: 1, max: -1},
	{name: "or", handler: fnOr, min: 1, max: -1},
	{name: "xor", handler: fnXor, min: 1, max: -1},
	{name: "not", handler: fnNot, min: 1, max: 1},
	{name: "t", handler: fnT, min: 1, max: 1},
	{name: "cand", handler: fnCand, min: 1, max: -1, flags: noParse, aliases: []string{"andalso"}},
	{name: "cor", handler: fnCor, min: 1, max: -1, flags: noParse, aliases: []string{"orelse"}},
	{name: "if", handler: fnIf, min: 2, max: 3, flags: noParse},
	{name: "ifelse", handler: fnIf, min: 3, max: 3, flags: noParse},
	{name: "switch", handler: fnSwitch, min: 2, max: -1, flags: noParse},
	{name: "switchall", handler: fnSwitchAll, min: 2, max: -1, flags: noParse},
	{name: "case", handler: fnCase, min: 2, max: -1, flags: noParse},

	// strings
	{name: "strlen", handler: fnStrlen, min: 1, max: 1},
	{name: "ucstr", handler: fnUcstr, min: 1, max: 1},
	{name: "lcstr", handler: fnLcstr, min: 1, max: 1},
	{name: "capstr", handler: fnCapstr, min: 1, max: 1},
	{name: "cat", handler: fnCat, min: 0, max: -1},
	{name: "strcat", handler: fnStrcat, min: 0, max: -1},
	{name: "mid", handler: fnMid, min: 3, max: 3},
	{name: "left", handler: fnLeft, min: 2, max: 2},
	{name: "right", handler: fnRight, min: 2, max: 2},
	{name: "repeat", handler: fnRepeat, min: 2, max: 2},
	{name: "trim", handler: fnTrim, min: 1, max: 3},
	{name: "squish", handler: fnSquish, min: 1, max: 1},
	{name: "ljust", handler: fnLjust, min: 2, max: 3},
	{name: "rjust", handler: fnRjust, min: 2, max: 3},
	{name: "center", handler: fnCenter, min: 2, max: 3},
	{name: "space", handler: fnSpace, min: 0, max: 1},
	{name: "edit", handler: fnEdit, min: 3, max: -1},
	{name: "pos", handler: fnPos, min: 2, max: 2},
	{name: "reverse", handler: fnReverse, min: 1, max: 1},
	{name: "lit", handler: fnLit, min: 0, max: -1, flags: noParse},
	{name: "ansi", handler: fnAnsi, min: 2, max: 2},
	{name: "stripansi", handler: fnStripansi, min: 1, max: 1, flags: plain},
	{name: "escape", handler: fnEscape, min: 1, max: 1},
	{name: "secure", handler: fnSecure, min: 1, max: 1},
	{name: "comp", handler: fnComp, min: 2, max: 2, flags: plain},
	{name: "strmatch", handler: fnStrmatch, min: 2, max: 2, flags: plain},

	// lists
	{name: "words", handler: fnWords, min: 0, max: 2},
	{name: "first", handler: fnFirst, min: 0, max: 2},
	{name: "rest", handler: fnRest, min: 0, max: 2},
	{name: "last", handler: fnLast, min: 0, max: 2},
	{name: "extract", handler: fnExtract, min: 3, max: 4},
	{name: "member", handler: fnMember, min: 2, max: 3},
	{name: "lnum", handler: fnLnum, min: 1, max: 3, flags: plain},
	{name: "sort", handler: fnSort, min: 0, max: 3},
	{name: "revwords", handler: fnRevwords, min: 0, max: 2},
	{name: "setunion", handler: fnSetunion, min: 2, max: 3},
	{name: "setinter", handler: fnSetinter, min: 2, max: 3},
	{name: "setdiff", handler: fnSetdiff, min: 2, max: 3},
	{name: "iter", handler: fnIter, min: 2, max: 4, flags: noParse, aliases: []string{"parse"}},
	{name: "map", handler: fnMap, min: 2, max: 4},
	{name: "filter", handler: fnFilter, min: 2, max: 4},
	{name: "fold", handler: fnFold, min: 2, max: 4},
	{name: "list", handler: fnList, min: 2, max: 3, flags: noParse | effect},

	// registers
	{name: "setq", handler: fnSetq, min: 2, max: -1},
	{name: "setr", handler: fnSetr, min: 2, max: 2},
	{name: "r", handler: fnR, min: 1, max: 1},
	{name: "localize", handler: fnLocalize, min: 1, max: 1, flags: noParse},

	// objects
	{name: "num", handler: fnNum, min: 1, max: 1},
	{name: "name", handler: fnName, min: 1, max: 1},
	{name: "owner", handler: fnOwner, min: 1, max: 1},
	{name: "loc", handler: fnLoc, min: 1, max: 1},
	{name: "type", handler: fnType, min: 1, max: 1},
	{name: "flags", handler: fnFlags, min: 1, max: 1},
	{name: "hasflag", handler: fnHasflag, min: 2, max: 2},
	{name: "haspower", handler: fnHaspower, min: 2, max: 2},
	{name: "get", handler: fnGet, min: 1, max: 1},
	{name: "xget", handler: fnXget, min: 2, max: 2},
	{name: "v", handler: fnV, min: 1, max: 1},
	{name: "u", handler: fnU, min: 1, max: 11},
	{name: "ulocal", handler: fnUlocal, min: 1, max: 11},
	{name: "hasattr", handler: fnHasattr, min: 2, max: 2},
	{name: "elock", handler: fnElock, min: 2, max: 2},
	{name: "lock", handler: fnLock, min: 1, max: 2},
	{name: "controls", handler: fnControls, min: 2, max: 2},

	// side effects
	{name: "set", handler: fnSet, min: 2, max: 2, flags: effect},
	{name: "pemit", handler: fnPemit, min: 2, max: 2, flags: effect},
	{name: "trigger", handler: fnTrigger, min: 1, max: 11, flags: effect},
	{name: "wait", handler: fnWait, min: 2, max: 2, flags: noParse | effect},

	// misc
	{name: "s", handler: fnS, min: 1, max: 1},
	{name: "null", handler: fnNull, min: 0, max: -1},
	{name: "version", handler: fnVersion, min: 0, max: 0},
}

// RegisterAll adds the built-in library to r.
func RegisterAll(r *eval.Registry) {
	for _, e := range builtins {
		r.Register(eval.FunctionDefinition{
			Name:    e.name,
			Handler: e.handler,
			MinArgs: e.min,
			MaxArgs: e.max,
			Flags:   e.flags,
		}, e.aliases...)
	}
}

func itoa(n int) string { return strconv.Itoa(n) }
