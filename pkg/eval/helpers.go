package eval

import (
	"context"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
	"github.com/crystal-mush/mushcode/pkg/markup"
)

// Soft-error messages shared by object functions.
const (
	MsgNoMatch   = "NO MATCH"
	MsgAmbiguous = "AMBIGUOUS MATCH"
	MsgNoSuchObj = "NO SUCH OBJECT"
	MsgNoAttr    = "NO SUCH ATTRIBUTE"
	MsgPerm      = "PERMISSION DENIED"
)

// Resolve matches name as seen by the executor. When it does not resolve
// to one object, msg holds the soft-error message.
func (c *Call) Resolve(ctx context.Context, name string) (ref gamedb.DBRef, msg string, err error) {
	ref, err = c.Ev.Store.Match(ctx, c.State.Executor, name)
	if err != nil {
		if gamedb.IsNotFound(err) {
			return gamedb.Nothing, MsgNoMatch, nil
		}
		return gamedb.Nothing, "", err
	}
	switch ref {
	case gamedb.Nothing:
		return ref, MsgNoMatch, nil
	case gamedb.Ambiguous:
		return ref, MsgAmbiguous, nil
	}
	return ref, "", nil
}

// Object fetches a snapshot of ref; msg is set when it does not exist.
func (c *Call) Object(ctx context.Context, ref gamedb.DBRef) (*gamedb.Object, string, error) {
	obj, err := c.Ev.Store.Object(ctx, ref)
	if err != nil {
		if gamedb.IsNotFound(err) {
			return nil, MsgNoSuchObj, nil
		}
		return nil, "", err
	}
	return obj, "", nil
}

// ObjAttr splits "obj/attr". A bare attribute name refers to the executor.
func (c *Call) ObjAttr(ctx context.Context, spec string) (gamedb.DBRef, string, string, error) {
	objName, attr, found := strings.Cut(spec, "/")
	if !found {
		attr = objName
		objName = ""
	}
	attr = gamedb.NormalizeAttr(attr)
	if attr == "" {
		return gamedb.Nothing, "", MsgNoAttr, nil
	}
	if !found {
		return c.State.Executor, attr, "", nil
	}
	ref, msg, err := c.Resolve(ctx, objName)
	return ref, attr, msg, err
}

// Attr reads an attribute; a missing object reads as empty.
func (c *Call) Attr(ctx context.Context, ref gamedb.DBRef, attr string) (string, bool, error) {
	v, ok, err := c.Ev.Store.Attr(ctx, ref, attr)
	if err != nil && gamedb.IsNotFound(err) {
		return "", false, nil
	}
	return v, ok, err
}

// CallUFun evaluates obj/attr the way u() does: the attribute runs as the
// object holding it with args as %0-%9. With local set, register writes made
// by the attribute are discarded.
func (c *Call) CallUFun(ctx context.Context, spec string, args []markup.Text, local bool) (markup.Text, string, error) {
	ref, attr, msg, err := c.ObjAttr(ctx, spec)
	if err != nil || msg != "" {
		return markup.Empty, msg, err
	}
	body, ok, err := c.Attr(ctx, ref, attr)
	if err != nil || !ok || body == "" {
		return markup.Empty, "", err
	}
	saved := c.State.Regs
	ps := c.State.WithExecutor(ref).WithArgs(args)
	out, err := c.EvalText(ctx, markup.New(body), ps)
	if err != nil {
		return markup.Empty, "", err
	}
	if local {
		c.State = c.State.WithRegisters(saved)
	}
	return out, "", nil
}

// CallIterFun evaluates obj/attr the way map(), filter() and fold() do: the
// attribute body runs with the calling object as executor.
func (c *Call) CallIterFun(ctx context.Context, ref gamedb.DBRef, attr string, args []markup.Text) (markup.Text, error) {
	body, ok, err := c.Attr(ctx, ref, attr)
	if err != nil || !ok || body == "" {
		return markup.Empty, err
	}
	return c.EvalText(ctx, markup.New(body), c.State.WithArgs(args))
}

// IsTrue applies MUSH truthiness: non-empty, not a sentinel, and not a
// number equal to zero.
func (c *Call) IsTrue(t markup.Text) bool {
	s := strings.TrimSpace(t.Plain())
	if s == "" || IsSentinel(c.Ev.ErrorPrefix, s) {
		return false
	}
	if IsNumber(s) {
		return ToFloat(s) != 0
	}
	return true
}

// IsNumber reports whether s is a decimal number. Empty counts as 0.
func IsNumber(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	if s[0] == '-' || s[0] == '+' {
		s = s[1:]
	}
	digits, dot := 0, false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] >= '0' && s[i] <= '9':
			digits++
		case s[i] == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return digits > 0
}

// IsInteger reports whether s is a whole number.
func IsInteger(s string) bool {
	s = strings.TrimSpace(s)
	return IsNumber(s) && !strings.Contains(s, ".")
}

// ToFloat parses the leading number in s the way C atof does; trailing
// text is ignored.
func ToFloat(s string) float64 {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	sawDot := false
	for end < len(s) {
		if s[end] == '.' && !sawDot {
			sawDot = true
		} else if s[end] < '0' || s[end] > '9' {
			break
		}
		end++
	}
	f, _ := strconv.ParseFloat(s[:end], 64)
	return f
}

// ToInt parses the leading integer in s the way C atoi does, saturating at
// the int range instead of wrapping.
func ToInt(s string) int {
	s = strings.TrimSpace(s)
	neg := false
	if len(s) > 0 && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	// accumulate negatively so MinInt is reachable
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		d := int(c - '0')
		if n < (math.MinInt+d)/10 {
			n = math.MinInt
			break
		}
		n = n*10 - d
	}
	if neg {
		return n
	}
	if n == math.MinInt {
		return math.MaxInt
	}
	return -n
}

// FormatFloat prints f without a fraction when it is whole, otherwise with
// trailing zeros removed.
func FormatFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	s := strconv.FormatFloat(f, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// BoolText returns "1" or "0".
func BoolText(b bool) markup.Text {
	if b {
		return markup.New("1")
	}
	return markup.New("0")
}

func itoa(n int) string { return strconv.Itoa(n) }

func refString(ref gamedb.DBRef) string {
	return "#" + strconv.Itoa(int(ref))
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
