// Package lock compiles and evaluates lock expressions, the boolean
// sublanguage that gates who may pass, use or control an object.
//
// Grammar:
//
//	E → T ('|' E)?
//	T → F ('&' T)?
//	F → '!' F | '@' L | '+' L | '=' L | '$' L | L
//	L → '(' E ')' | '#' number | name ':' pattern | name '/' pattern | kind '^' name | name
//
// Compilation never touches the store. Object names are kept symbolic and
// matched from the gated object when the lock is evaluated.
package lock

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
)

// Kind is the type of a lock node.
type Kind uint8

const (
	KindAnd     Kind = iota
	KindOr           // a | b
	KindNot          // !a
	KindRef          // #n
	KindName         // object name, resolved when evaluated
	KindFlag         // bare flag name or flag^NAME
	KindPower        // bare power name or power^NAME
	KindType         // type^PLAYER
	KindChannel      // channel^Public
	KindOwner        // owner^name: the unlocker is owned by name
	KindAttr         // ATTR:pattern on the unlocker or its contents
	KindEval         // ATTR/pattern evaluated on the gated object
	KindIndir        // @obj: obj's basic lock
	KindCarry        // +obj
	KindIs           // =obj
	KindSameOwner    // $obj
)

// Node is one element of a compiled lock.
type Node struct {
	Kind    Kind
	Left    *Node // operand of unary kinds, left side of & and |
	Right   *Node
	Ref     gamedb.DBRef
	Name    string // object, flag, power, type or channel name; attribute for KindAttr and KindEval
	Pattern string
}

// Compiled is a parsed lock. A nil Root always passes.
type Compiled struct {
	Source string
	Root   *Node
}

// ParseError reports a malformed lock string.
type ParseError struct {
	Lock string
	Pos  int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("lock: %s at offset %d in %q", e.Msg, e.Pos, e.Lock)
}

// Compile parses lockString. The empty string compiles to a lock that
// always passes.
func Compile(lockString string) (*Compiled, error) {
	src := strings.TrimSpace(lockString)
	c := &Compiled{Source: src}
	if src == "" {
		return c, nil
	}
	p := &parser{src: src}
	root, err := p.parseE()
	if err != nil {
		return nil, err
	}
	p.skipSpaces()
	if p.pos < len(p.src) {
		return nil, p.fail("unexpected %q", p.src[p.pos])
	}
	c.Root = root
	return c, nil
}

type parser struct {
	src   string
	pos   int
	depth int
}

// maxParseDepth bounds parenthesis and prefix nesting.
const maxParseDepth = 100

func (p *parser) fail(format string, args ...any) *ParseError {
	return &ParseError{Lock: p.src, Pos: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) skipSpaces() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxParseDepth {
		return p.fail("expression nested too deeply")
	}
	return nil
}

func (p *parser) parseE() (*Node, error) {
	left, err := p.parseT()
	if err != nil {
		return nil, err
	}
	p.skipSpaces()
	if p.peek() != '|' {
		return left, nil
	}
	p.pos++
	right, err := p.parseE()
	if err != nil {
		return nil, err
	}
	return &Node{Kind: KindOr, Left: left, Right: right}, nil
}

func (p *parser) parseT() (*Node, error) {
	left, err := p.parseF()
	if err != nil {
		return nil, err
	}
	p.skipSpaces()
	if p.peek() != '&' {
		return left, nil
	}
	p.pos++
	right, err := p.parseT()
	if err != nil {
		return nil, err
	}
	return &Node{Kind: KindAnd, Left: left, Right: right}, nil
}

func (p *parser) parseF() (*Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer func() { p.depth-- }()

	p.skipSpaces()
	op := p.peek()
	var kind Kind
	switch op {
	case '!':
		p.pos++
		sub, err := p.parseF()
		if err != nil {
			return nil, err
		}
		return &Node{Kind: KindNot, Left: sub}, nil
	case '@':
		kind = KindIndir
	case '+':
		kind = KindCarry
	case '=':
		kind = KindIs
	case '$':
		kind = KindSameOwner
	default:
		return p.parseLiteral(false)
	}
	p.pos++
	sub, err := p.parseLiteral(true)
	if err != nil {
		return nil, err
	}
	switch {
	case sub.Kind == KindRef || sub.Kind == KindName:
	case sub.Kind == KindAttr && (kind == KindCarry || kind == KindIs):
	default:
		return nil, p.fail("bad operand for %c", op)
	}
	return &Node{Kind: kind, Left: sub}, nil
}

// parseLiteral reads one operand. Under a prefix operator a bare word is
// always an object name; elsewhere flag and power names take precedence.
func (p *parser) parseLiteral(object bool) (*Node, error) {
	p.skipSpaces()
	if p.peek() == '(' {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer func() { p.depth-- }()
		p.pos++
		sub, err := p.parseE()
		if err != nil {
			return nil, err
		}
		p.skipSpaces()
		if p.peek() != ')' {
			return nil, p.fail("missing )")
		}
		p.pos++
		return sub, nil
	}

	start := p.pos
	for p.pos < len(p.src) {
		switch ch := p.src[p.pos]; ch {
		case '&', '|', '!', '(', ')':
			return p.word(strings.TrimSpace(p.src[start:p.pos]), object)
		case ':', '/', '^':
			name := strings.TrimSpace(p.src[start:p.pos])
			p.pos++
			return p.qualified(name, ch)
		}
		p.pos++
	}
	return p.word(strings.TrimSpace(p.src[start:]), object)
}

// qualified finishes name:pattern, name/pattern and kind^name.
func (p *parser) qualified(name string, sep byte) (*Node, error) {
	if name == "" {
		return nil, p.fail("missing name before %c", sep)
	}
	start := p.pos
	for p.pos < len(p.src) {
		if c := p.src[p.pos]; c == '&' || c == '|' || c == ')' {
			break
		}
		p.pos++
	}
	rest := strings.TrimSpace(p.src[start:p.pos])
	switch sep {
	case ':':
		return &Node{Kind: KindAttr, Name: gamedb.NormalizeAttr(name), Pattern: rest}, nil
	case '/':
		return &Node{Kind: KindEval, Name: gamedb.NormalizeAttr(name), Pattern: rest}, nil
	}
	if rest == "" {
		return nil, p.fail("missing value after %s^", name)
	}
	switch strings.ToLower(name) {
	case "flag":
		f := strings.ToUpper(rest)
		if _, ok := gamedb.FlagTable[f]; !ok {
			return nil, p.fail("no such flag %q", rest)
		}
		return &Node{Kind: KindFlag, Name: f}, nil
	case "power":
		pw := strings.ToUpper(rest)
		if _, ok := gamedb.PowerTable[pw]; !ok {
			return nil, p.fail("no such power %q", rest)
		}
		return &Node{Kind: KindPower, Name: pw}, nil
	case "type":
		t, ok := gamedb.ParseType(rest)
		if !ok {
			return nil, p.fail("no such type %q", rest)
		}
		return &Node{Kind: KindType, Name: t.String()}, nil
	case "channel":
		return &Node{Kind: KindChannel, Name: rest}, nil
	case "owner":
		n, err := p.word(rest, true)
		if err != nil {
			return nil, err
		}
		return &Node{Kind: KindOwner, Left: n}, nil
	}
	return nil, p.fail("unknown qualifier %q", name)
}

func (p *parser) word(token string, object bool) (*Node, error) {
	if token == "" {
		return nil, p.fail("missing operand")
	}
	if token[0] == '#' {
		n, err := strconv.Atoi(token[1:])
		if err != nil {
			return nil, p.fail("bad object reference %q", token)
		}
		return &Node{Kind: KindRef, Ref: gamedb.DBRef(n)}, nil
	}
	if !object {
		up := strings.ToUpper(token)
		if _, ok := gamedb.FlagTable[up]; ok {
			return &Node{Kind: KindFlag, Name: up}, nil
		}
		if _, ok := gamedb.PowerTable[up]; ok {
			return &Node{Kind: KindPower, Name: up}, nil
		}
	}
	return &Node{Kind: KindName, Name: token}, nil
}

// String renders the lock in canonical form.
func (c *Compiled) String() string {
	if c == nil {
		return ""
	}
	return Unparse(c.Root)
}

// Unparse renders a lock tree in canonical form. Compiling the result
// yields an equivalent tree.
func Unparse(n *Node) string {
	if n == nil {
		return ""
	}
	switch n.Kind {
	case KindAnd:
		return andOperand(n.Left) + "&" + andOperand(n.Right)
	case KindOr:
		return Unparse(n.Left) + "|" + Unparse(n.Right)
	case KindNot:
		if n.Left != nil && (n.Left.Kind == KindAnd || n.Left.Kind == KindOr) {
			return "!(" + Unparse(n.Left) + ")"
		}
		return "!" + Unparse(n.Left)
	case KindRef:
		return "#" + strconv.Itoa(int(n.Ref))
	case KindName:
		return n.Name
	case KindFlag:
		return "flag^" + n.Name
	case KindPower:
		return "power^" + n.Name
	case KindType:
		return "type^" + n.Name
	case KindChannel:
		return "channel^" + n.Name
	case KindOwner:
		return "owner^" + Unparse(n.Left)
	case KindAttr:
		return n.Name + ":" + n.Pattern
	case KindEval:
		return n.Name + "/" + n.Pattern
	case KindIndir:
		return "@" + Unparse(n.Left)
	case KindCarry:
		return "+" + Unparse(n.Left)
	case KindIs:
		return "=" + Unparse(n.Left)
	case KindSameOwner:
		return "$" + Unparse(n.Left)
	}
	return "?"
}

func andOperand(n *Node) string {
	if n != nil && n.Kind == KindOr {
		return "(" + Unparse(n) + ")"
	}
	return Unparse(n)
}
