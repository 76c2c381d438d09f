package functions

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/crystal-mush/mushcode/pkg/eval"
	"github.com/crystal-mush/mushcode/pkg/gamedb"
	"github.com/crystal-mush/mushcode/pkg/markup"
)

// Objects:
//
//	#0 Lobby (ROOM)
//	#1 Wizard (PLAYER, WIZARD) in #0
//	#3 Bob (PLAYER) in #0
//	#4 Box (THING) in #0, owner #3, basic lock #3
const funcWorld = `
objects:
  - ref: 0
    name: Lobby
    type: room
    owner: 1
  - ref: 1
    name: Wizard
    type: player
    location: 0
    flags: [WIZARD]
    attrs:
      UP: "[ucstr(%0)]"
      ISA: "[strmatch(%0,a*)]"
      SUM: "[add(%0,%1)]"
  - ref: 3
    name: Bob
    type: player
    location: 0
    attrs:
      FN: "[add(%0,%1)]"
  - ref: 4
    name: Box
    location: 0
    owner: 3
    attrs:
      COLOR: red
      WHO: "%!"
    locks:
      basic: "#3"
`

type funcEnv struct {
	db *gamedb.Database
	ev *eval.Evaluator
}

func newFuncEnv(t *testing.T) *funcEnv {
	t.Helper()
	db, err := gamedb.LoadWorld(strings.NewReader(funcWorld))
	if err != nil {
		t.Fatalf("LoadWorld: %v", err)
	}
	reg := eval.NewRegistry()
	RegisterAll(reg)
	return &funcEnv{db: db, ev: eval.New(db, reg, eval.Options{})}
}

func (e *funcEnv) evalAs(t *testing.T, ps eval.ParserState, expr string) string {
	t.Helper()
	cs, err := e.ev.Evaluate(context.Background(), markup.New(expr), ps)
	if err != nil {
		t.Fatalf("%s: unexpected error %v", expr, err)
	}
	return cs.Text.Plain()
}

func (e *funcEnv) eval(t *testing.T, expr string) string {
	t.Helper()
	return e.evalAs(t, eval.NewState(1, 1), expr)
}

func (e *funcEnv) check(t *testing.T, tests map[string]string) {
	t.Helper()
	for expr, want := range tests {
		if got := e.eval(t, expr); got != want {
			t.Errorf("%s = %q, want %q", expr, got, want)
		}
	}
}

func TestMath(t *testing.T) {
	newFuncEnv(t).check(t, map[string]string{
		"[add(1,2)]":         "3",
		"[add(1,2,3.5)]":     "6",
		"[add(,1)]":          "1",
		"[sub(10,3)]":        "7",
		"[mul(3,4)]":         "12",
		"[div(7,2)]":         "3",
		"[div(1,0)]":         "#-1 DIVIDE BY ZERO",
		"[mod(7,3)]":         "1",
		"[fdiv(1,4)]":        "0.25",
		"[fadd(0.5,0.25)]":   "0.75",
		"[abs(-5)]":          "5",
		"[sign(-2)]":         "-1",
		"[max(1,5,3)]":       "5",
		"[min(4,2,8)]":       "2",
		"[inc(9)]":           "10",
		"[dec(0)]":           "-1",
		"[round(3.14159,2)]": "3.14",
		"[trunc(2.9)]":       "2",
		"[floor(-1.5)]":      "-2",
		"[ceil(1.2)]":        "2",
		"[gt(3,2)]":          "1",
		"[lte(3,2)]":         "0",
		"[eq(1,1.0)]":        "1",
		"[neq(1,2)]":         "1",
		"[isnum(abc)]":       "0",
		"[isnum(12.5)]":      "1",
		"[isint(12.5)]":      "0",
		"[add(a,1)]":         "#-1 ARGUMENTS MUST BE NUMBERS",
		"[sub(1)]":           "#-1 FUNCTION (SUB) EXPECTS 2 ARGUMENTS BUT GOT 1",
		"[rand(1)]":          "0",
		"[rand(0)]":          "#-1 ARGUMENT MUST BE POSITIVE",
	})
}

func TestLogic(t *testing.T) {
	newFuncEnv(t).check(t, map[string]string{
		"[and(1,0)]":                         "0",
		"[and(1,abc)]":                       "1",
		"[or(0,1)]":                          "1",
		"[xor(1,1)]":                         "0",
		"[not(0)]":                           "1",
		"[t(#-1 NO MATCH)]":                  "0",
		"[if(1,yes,no)]":                     "yes",
		"[if(0,yes,no)]":                     "no",
		"[if(0,yes)]":                        "",
		"[ifelse(abc,yes,no)]":               "yes",
		"[switch(b,a,1,b,2,3)]":              "2",
		"[switch(z,a,1,b,2,3)]":              "3",
		"[switch(hello world,h*,#$)]":        "hello world",
		"[switch(Bob says hi,* says *,%$1)]": "hi",
		"[switchall(abc,a*,1,*c,2)]":         "12",
		"[case(A,a,1,A,2)]":                  "2",
		"[andalso(1,1)]":                     "1",
		"[orelse(0,0)]":                      "0",
	})
}

func TestCandShortCircuit(t *testing.T) {
	e := newFuncEnv(t)
	if got := e.eval(t, "[cand(0,setq(0,x))][r(0)]"); got != "0" {
		t.Errorf("expected %q, got %q", "0", got)
	}
	if got := e.eval(t, "[cand(1,setq(0,x))][r(0)]"); got != "0x" {
		t.Errorf("expected %q, got %q", "0x", got)
	}
	if got := e.eval(t, "[cor(1,setq(0,x))][r(0)]"); got != "1" {
		t.Errorf("expected %q, got %q", "1", got)
	}
}

func TestStrings(t *testing.T) {
	newFuncEnv(t).check(t, map[string]string{
		"[strlen(hello)]":            "5",
		"[ucstr(abc)]":               "ABC",
		"[lcstr(ABC)]":               "abc",
		"[capstr(abc)]":              "Abc",
		"[cat(a,b,c)]":               "a b c",
		"[strcat(a,b)]":              "ab",
		"[mid(abcdef,1,3)]":          "bcd",
		"[left(abcdef,2)]":           "ab",
		"[right(abcdef,2)]":          "ef",
		"[repeat(ab,3)]":             "ababab",
		"[trim(xxhixx,x)]":           "hi",
		"[trim(xxhixx,x,l)]":         "hixx",
		"[squish(a   b)]":            "a b",
		"[ljust(ab,4,.)]":            "ab..",
		"[rjust(ab,4,.)]":            "..ab",
		"[center(ab,6,-)]":           "--ab--",
		"[edit(hello world,o,0)]":    "hell0 w0rld",
		"[edit(abc,^,x)]":            "xabc",
		"[edit(abc,$,x)]":            "abcx",
		"[pos(c,abcd)]":              "3",
		"[pos(z,abcd)]":              "#-1",
		"[reverse(abc)]":             "cba",
		"[lit([add(1,2)])]":          "[add(1,2)]",
		"[lit(a,b)]":                 "a,b",
		"[secure(a;b)]":              "a b",
		"[comp(a,b)]":                "-1",
		"[strmatch(foobar,f*r)]":     "1",
		"[stripansi([ansi(r,red)])]": "red",
	})
}

func TestExtremeIntegers(t *testing.T) {
	const (
		maxInt = "9223372036854775807"
		minInt = "-9223372036854775808"
		huge   = "99999999999999999999999"
	)
	newFuncEnv(t).check(t, map[string]string{
		"[repeat(ab," + maxInt + ")]":              "#-1 STRING TOO LONG",
		"[repeat(ab," + huge + ")]":                "#-1 STRING TOO LONG",
		"[repeat(ab," + minInt + ")]":              "",
		"[mid(abcdef,2," + maxInt + ")]":           "cdef",
		"[mid(abcdef," + maxInt + ",3)]":           "",
		"[left(abc," + maxInt + ")]":               "abc",
		"[right(abc," + maxInt + ")]":              "abc",
		"[ljust(ab," + minInt + ")]":               "ab",
		"[rjust(ab," + minInt + ")]":               "ab",
		"[center(ab," + minInt + ")]":              "ab",
		"[ljust(ab," + huge + ")]":                 "#-1 STRING TOO LONG",
		"[space(" + minInt + ")]":                  "",
		"[extract(a b c,2," + maxInt + ")]":        "b c",
		"[extract(a b c," + maxInt + ",1)]":        "",
		"[lnum(" + minInt + ")]":                   "",
		"[lnum(" + maxInt + ")]":                   "#-1 STRING TOO LONG",
		"[lnum(9223372036854775806," + huge + ")]": "9223372036854775806 " + maxInt,
		"[rand(" + maxInt + "," + maxInt + ")]":    maxInt,
		"[rand(" + minInt + "," + minInt + ")]":    minInt,
		"[div(" + minInt + ",-1)]":                 minInt,
	})
}

func TestExtremeIntegersStayBounded(t *testing.T) {
	e := newFuncEnv(t)
	for _, expr := range []string{
		"[rand(-9223372036854775808,9223372036854775807)]",
		"[rand(9223372036854775806,9223372036854775807)]",
		"[rand(" + strings.Repeat("9", 30) + ")]",
	} {
		got := e.eval(t, expr)
		if strings.HasPrefix(got, "#-1") || eval.ToInt(got) == 0 && got != "0" {
			t.Errorf("%s = %q, want a number", expr, got)
		}
	}
	if got := e.eval(t, "[space(9223372036854775807)]"); len(got) != maxText {
		t.Errorf("space(maxint) length = %d, want %d", len(got), maxText)
	}
}

func TestAnsiStyles(t *testing.T) {
	e := newFuncEnv(t)
	cs, err := e.ev.Evaluate(context.Background(), markup.New("[ansi(r,red)]"), eval.NewState(1, 1))
	if err != nil {
		t.Fatal(err)
	}
	if cs.Text.Plain() != "red" {
		t.Errorf("expected %q, got %q", "red", cs.Text.Plain())
	}
	if cs.Text.StyleAt(0).IsZero() {
		t.Error("expected styled text")
	}
}

func TestLists(t *testing.T) {
	newFuncEnv(t).check(t, map[string]string{
		"[words(a b  c)]":                    "3",
		"[first(a b c)]":                     "a",
		"[rest(a b c)]":                      "b c",
		"[last(a b c)]":                      "c",
		"[extract(a b c d,2,2)]":             "b c",
		"[member(a b c,c)]":                  "3",
		"[member(a b c,z)]":                  "0",
		"[lnum(3)]":                          "0 1 2",
		"[lnum(1,3)]":                        "1 2 3",
		"[lnum(3,1)]":                        "3 2 1",
		"[sort(c a b)]":                      "a b c",
		"[sort(10 9 100)]":                   "9 10 100",
		"[revwords(a b c)]":                  "c b a",
		"[setunion(a b,b c)]":                "a b c",
		"[setinter(a b c,b c d)]":            "b c",
		"[setdiff(a b c,b)]":                 "a c",
		"[words(a|b|c,|)]":                   "3",
		"[iter(a b c,[ucstr(##)])]":          "A B C",
		"[iter(a b c,#@)]":                   "1 2 3",
		"[iter(a|b,##-,|)]":                  "a-|b-",
		"[parse(x y,##)]":                    "x y",
		"[iter(1 2,[iter(a b,##)])]":         "a b a b",
		"[map(me/UP,a b)]":                   "A B",
		"[filter(ISA,apple banana avocado)]": "apple avocado",
		"[fold(me/SUM,1 2 3)]":               "6",
		"[fold(me/SUM,1 2 3,10)]":            "16",
	})
}

func TestRegisters(t *testing.T) {
	newFuncEnv(t).check(t, map[string]string{
		"[setq(0,hello)][r(0)]":                          "hello",
		"[setr(a,x)]%qa":                                 "xx",
		"[strcat(setq(0,x),r(0))]":                       "x",
		"[setq(0,a)][localize([setq(0,b)][r(0)])][r(0)]": "ba",
		"[setq(!!,x)]":                                   "#-1 INVALID GLOBAL REGISTER",
		"[setq(0,a,1,b)]%q0%q1":                          "ab",
	})
}

func TestObjects(t *testing.T) {
	newFuncEnv(t).check(t, map[string]string{
		"[num(me)]":            "#1",
		"[num(nosuch)]":        "#-1 NO MATCH",
		"[name(me)]":           "Wizard",
		"[name(#4)]":           "Box",
		"[loc(me)]":            "#0",
		"[owner(#4)]":          "#3",
		"[type(#0)]":           "ROOM",
		"[flags(me)]":          "WIZARD",
		"[hasflag(me,wizard)]": "1",
		"[hasflag(#3,wizard)]": "0",
		"[hasflag(me,player)]": "1",
		"[get(#4/color)]":      "red",
		"[xget(#4,COLOR)]":     "red",
		"[v(up)]":              "[ucstr(%0)]",
		"[u(#3/FN,2,3)]":       "5",
		"[u(me/UP,abc)]":       "ABC",
		"[u(#4/WHO)]":          "#4",
		"[hasattr(#4,color)]":  "1",
		"[hasattr(#4,nope)]":   "0",
		"[lock(#4)]":           "#3",
		"[controls(me,#4)]":    "1",
		"[controls(#3,#4)]":    "1",
		"[controls(#4,#1)]":    "0",
	})
}

func TestSideEffects(t *testing.T) {
	e := newFuncEnv(t)
	e.check(t, map[string]string{
		"[set(#4,COLOR:blue)][get(#4/color)]": "blue",
		"[set(#4,DARK)][hasflag(#4,dark)]":    "1",
		"[set(#4,BOGUS)]":                     "#-1 NO SUCH FLAG",
	})

	scope := e.ev.NewScope()
	ps := eval.NewState(1, 1).WithScope(scope)
	e.evalAs(t, ps, "[pemit(#3,hi)][trigger(#3/FN,1,2)][wait(5,think [add(1,2)])]")
	deliveries, deferred := scope.Take()
	if len(deliveries) != 1 || deliveries[0].To != 3 || deliveries[0].Text.Plain() != "hi" {
		t.Errorf("unexpected deliveries %+v", deliveries)
	}
	if len(deferred) != 2 {
		t.Fatalf("expected 2 deferred commands, got %d", len(deferred))
	}
	if d := deferred[0]; d.Executor != 3 || d.Command != "[add(%0,%1)]" || len(d.Args) != 2 {
		t.Errorf("unexpected trigger %+v", d)
	}
	if d := deferred[1]; d.Delay != 5*time.Second || d.Command != "think [add(1,2)]" {
		t.Errorf("unexpected wait %+v", d)
	}
}

func TestSideEffectsForbidden(t *testing.T) {
	e := newFuncEnv(t)
	ps := eval.NewState(1, 1).WithoutSideEffects()
	if got := e.evalAs(t, ps, "[pemit(#3,hi)]"); got != "#-1 PERMISSION DENIED" {
		t.Errorf("expected %q, got %q", "#-1 PERMISSION DENIED", got)
	}
	if got := e.evalAs(t, ps, "[lock(#4,#1)]"); got != "#-1 PERMISSION DENIED" {
		t.Errorf("expected %q, got %q", "#-1 PERMISSION DENIED", got)
	}
}

func TestListDelivers(t *testing.T) {
	e := newFuncEnv(t)
	scope := e.ev.NewScope()
	got := e.evalAs(t, eval.NewState(1, 1).WithScope(scope), "[list(a b,[ucstr(##)])]")
	if got != "" {
		t.Errorf("expected empty result, got %q", got)
	}
	deliveries, _ := scope.Take()
	if len(deliveries) != 2 || deliveries[1].Text.Plain() != "B" {
		t.Errorf("unexpected deliveries %+v", deliveries)
	}
}

func TestMisc(t *testing.T) {
	newFuncEnv(t).check(t, map[string]string{
		`[s(\[add(1,2)\])]`: "3",
		"[null(abc)]": "",
		"[version()]": "mushcode",
	})
}
