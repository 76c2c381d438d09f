// Package flatfile reads and writes TinyMUSH flatfile dumps, so worlds
// built on a C server can be imported into the object store and exported
// back out.
package flatfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
)

// Version flags from db.h
const (
	VMask        = 0x000000ff
	VZone        = 0x00000100
	VLink        = 0x00000200
	VGDBM        = 0x00000400
	VAtrName     = 0x00000800
	VAtrKey      = 0x00001000
	VParent      = 0x00002000
	VAtrMoney    = 0x00008000
	VXFlags      = 0x00010000
	VPowers      = 0x00020000
	V3Flags      = 0x00040000
	VQuoted      = 0x00080000
	VTQuotas     = 0x00100000
	VTimestamps  = 0x00200000
	VVisualAttrs = 0x00400000
)

// typeMask selects the object type bits of the first flag word.
const typeMask = 0x7

// Parser reads a TinyMUSH flatfile and produces a Database.
type Parser struct {
	reader *bufio.Reader
	db     *gamedb.Database
	line   int

	// user attribute numbers from +A lines
	attrNames map[int]string

	readName       bool
	readZone       bool
	readLink       bool
	readKey        bool
	readParent     bool
	readMoney      bool
	readExtFlags   bool
	read3Flags     bool
	readTimestamps bool
	readPowers     bool
	readAttribs    bool
}

// Load reads a flatfile from disk and returns a populated Database.
func Load(path string) (*gamedb.Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open flatfile: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads a flatfile from the given reader. Attribute numbers are
// resolved to names; the contents, exits and link chains are dropped since
// the store derives them from locations.
func Parse(r io.Reader) (*gamedb.Database, error) {
	p := &Parser{
		reader:      bufio.NewReaderSize(r, 256*1024),
		db:          gamedb.NewDatabase(),
		attrNames:   make(map[int]string),
		readName:    true,
		readKey:     true,
		readMoney:   true,
		readAttribs: true,
	}
	if err := p.parse(); err != nil {
		return nil, err
	}
	return p.db, nil
}

func (p *Parser) parse() error {
	for {
		ch, err := p.peekByte()
		if err == io.EOF {
			return fmt.Errorf("unexpected EOF at line %d (no end-of-dump marker)", p.line)
		}
		if err != nil {
			return fmt.Errorf("read error at line %d: %w", p.line, err)
		}

		switch ch {
		case '+':
			if err := p.parseHeader(); err != nil {
				return err
			}
		case '-':
			// -R record players and friends carry nothing the store keeps
			p.readLine()
		case '!':
			if err := p.parseObject(); err != nil {
				return err
			}
		case '*':
			return p.parseEOF()
		case '\n', '\r':
			p.readLine()
		default:
			return fmt.Errorf("unexpected character '%c' at line %d", ch, p.line)
		}
	}
}

// parseHeader handles + prefixed lines: +T, +V and +X (version), +A (attr
// def). +S, +N and +F are sizing hints and are skipped.
func (p *Parser) parseHeader() error {
	p.readByte() // consume '+'
	ch, err := p.readByte()
	if err != nil {
		return err
	}

	switch ch {
	case 'T', 'X': // TinyMUSH 3 and TinyMUX
		val, err := p.readInt()
		if err != nil {
			return fmt.Errorf("reading version: %w", err)
		}
		p.applyVersionFlags(val)
		p.read3Flags = val&V3Flags != 0
		p.readPowers = val&VPowers != 0

	case 'V': // TinyMUSH 2.x
		val, err := p.readInt()
		if err != nil {
			return fmt.Errorf("reading version: %w", err)
		}
		p.applyVersionFlags(val)

	case 'A':
		num, err := p.readInt()
		if err != nil {
			return fmt.Errorf("reading attr def number: %w", err)
		}
		str, err := p.readString()
		if err != nil {
			return fmt.Errorf("reading attr def string: %w", err)
		}
		// "flags:name"
		name := str
		if len(str) > 0 && unicode.IsDigit(rune(str[0])) {
			if idx := strings.IndexByte(str, ':'); idx > 0 {
				name = str[idx+1:]
			}
		}
		p.attrNames[num] = gamedb.NormalizeAttr(name)

	default:
		p.readLine()
	}
	return nil
}

func (p *Parser) applyVersionFlags(val int) {
	if val&VGDBM != 0 {
		p.readName = val&VAtrName == 0
	}
	p.readZone = val&VZone != 0
	p.readLink = val&VLink != 0
	p.readKey = val&VAtrKey == 0
	p.readParent = val&VParent != 0
	p.readMoney = val&VAtrMoney == 0
	p.readExtFlags = val&VXFlags != 0
	p.readTimestamps = val&VTimestamps != 0
}

// attrName resolves an attribute number.
func (p *Parser) attrName(num int) string {
	if name, ok := p.attrNames[num]; ok {
		return name
	}
	if name, ok := builtinAttrs[num]; ok {
		return name
	}
	return fmt.Sprintf("A_%d", num)
}

// parseObject reads a single object entry starting with !<dbref>
func (p *Parser) parseObject() error {
	p.readByte() // consume '!'
	ref, err := p.readInt()
	if err != nil {
		return fmt.Errorf("reading object dbref: %w", err)
	}

	obj := &gamedb.Object{
		DBRef:  gamedb.DBRef(ref),
		Zone:   gamedb.Nothing,
		Parent: gamedb.Nothing,
		Attrs:  make(map[string]string),
	}
	field := func(name string) (gamedb.DBRef, error) {
		n, err := p.readInt()
		if err != nil {
			return 0, fmt.Errorf("object #%d %s: %w", ref, name, err)
		}
		return gamedb.DBRef(n), nil
	}
	skip := func(name string) error {
		_, err := field(name)
		return err
	}

	if p.readName {
		if obj.Name, err = p.readString(); err != nil {
			return fmt.Errorf("object #%d name: %w", ref, err)
		}
	}
	if obj.Location, err = field("location"); err != nil {
		return err
	}
	if p.readZone {
		if obj.Zone, err = field("zone"); err != nil {
			return err
		}
	}
	if err := skip("contents"); err != nil {
		return err
	}
	if err := skip("exits"); err != nil {
		return err
	}
	if p.readLink {
		if err := skip("link"); err != nil {
			return err
		}
	}
	if err := skip("next"); err != nil {
		return err
	}

	// LOCK, only in formats that keep it in the header
	if p.readKey {
		key, err := p.readBoolExp()
		if err != nil {
			return fmt.Errorf("object #%d lock: %w", ref, err)
		}
		if key != "" {
			obj.Attrs[builtinAttrs[lockAttrNum]] = key
		}
	}

	if obj.Owner, err = field("owner"); err != nil {
		return err
	}
	if p.readParent {
		if obj.Parent, err = field("parent"); err != nil {
			return err
		}
	}
	if p.readMoney {
		if err := skip("pennies"); err != nil {
			return err
		}
	}

	f1, err := field("flags1")
	if err != nil {
		return err
	}
	obj.Type = gamedb.ObjectType(int(f1) & typeMask)
	obj.Flags[0] = word(f1) &^ typeMask
	if p.readExtFlags {
		f2, err := field("flags2")
		if err != nil {
			return err
		}
		obj.Flags[1] = word(f2)
	}
	if p.read3Flags {
		f3, err := field("flags3")
		if err != nil {
			return err
		}
		obj.Flags[2] = word(f3)
	}
	if p.readPowers {
		for i := range obj.Powers {
			pw, err := field("powers")
			if err != nil {
				return err
			}
			obj.Powers[i] = word(pw)
		}
	}
	if p.readTimestamps {
		if err := skip("access time"); err != nil {
			return err
		}
		if err := skip("mod time"); err != nil {
			return err
		}
	}

	if p.readAttribs {
		if err := p.readAttrList(obj); err != nil {
			return fmt.Errorf("object #%d attrs: %w", ref, err)
		}
	}

	p.db.Add(obj)
	return nil
}

// word reinterprets a flag word the C server printed as a signed int.
func word(v gamedb.DBRef) int {
	return int(uint32(int32(v)))
}

// readAttrList reads the > ... < delimited attribute section.
func (p *Parser) readAttrList(obj *gamedb.Object) error {
	for {
		ch, err := p.peekByte()
		if err != nil {
			return fmt.Errorf("unexpected EOF in attr list")
		}

		switch ch {
		case '>':
			p.readByte()
			num, err := p.readInt()
			if err != nil {
				return fmt.Errorf("reading attr number: %w", err)
			}
			val, err := p.readString()
			if err != nil {
				return fmt.Errorf("reading attr value: %w", err)
			}
			if num <= 0 || val == "" {
				continue
			}
			name, val := p.attrName(num), stripAttrPrefix(val)
			if name == "NAME" && !p.readName {
				obj.Name = val
				continue
			}
			obj.Attrs[name] = val
		case '<':
			p.readByte()
			p.readLine()
			return nil
		case '\n', '\r':
			p.readLine()
		default:
			// Bad character, try to skip the value
			p.readByte()
			p.readString()
		}
	}
}

// stripAttrPrefix removes the "\x01owner:flags:" header C servers put on
// attributes whose owner or flags differ from the object's.
func stripAttrPrefix(raw string) string {
	if raw == "" || raw[0] != '\x01' {
		return raw
	}
	colons := 0
	for i := 1; i < len(raw); i++ {
		if raw[i] == ':' {
			colons++
			if colons == 2 {
				return raw[i+1:]
			}
		}
	}
	return raw[1:]
}

// readBoolExp reads a header lock and renders it as a lock key.
func (p *Parser) readBoolExp() (string, error) {
	key, err := p.readBoolExp1()
	if err != nil {
		return "", err
	}
	for {
		ch, err := p.peekByte()
		if err != nil || ch != '\n' {
			break
		}
		p.readByte()
	}
	return key, nil
}

func (p *Parser) readBoolExp1() (string, error) {
	ch, err := p.peekByte()
	if err != nil {
		return "", err
	}

	switch ch {
	case '\n':
		return "", nil

	case '(':
		p.readByte()
		op, _ := p.peekByte()
		switch op {
		case '!', '@', '=', '+', '$':
			p.readByte()
			sub, err := p.readBoolExp1()
			if err != nil {
				return "", err
			}
			p.consumeOptionalNewline()
			if err := p.expectByte(')'); err != nil {
				return "", err
			}
			return string(op) + sub, nil
		}

		left, err := p.readBoolExp1()
		if err != nil {
			return "", err
		}
		p.consumeOptionalNewline()
		bin, _ := p.readByte()
		if bin != '&' && bin != '|' {
			return "", fmt.Errorf("unexpected operator '%c' in boolexp at line %d", bin, p.line)
		}
		right, err := p.readBoolExp1()
		if err != nil {
			return "", err
		}
		p.consumeOptionalNewline()
		if err := p.expectByte(')'); err != nil {
			return "", err
		}
		return "(" + left + string(bin) + right + ")", nil

	case '-':
		// Obsolete NOTHING key
		p.readLine()
		return "", nil

	case '"':
		name, err := p.readQuotedString(false)
		if err != nil {
			return "", err
		}
		return p.attrKey(gamedb.NormalizeAttr(name)), nil
	}

	if ch >= '0' && ch <= '9' {
		num := 0
		for {
			c, err := p.peekByte()
			if err != nil || c < '0' || c > '9' {
				break
			}
			p.readByte()
			num = num*10 + int(c-'0')
		}
		if c, _ := p.peekByte(); c == ':' || c == '/' {
			return p.attrKey(p.attrName(num)), nil
		}
		return fmt.Sprintf("#%d", num), nil
	}
	if unicode.IsLetter(rune(ch)) {
		var name strings.Builder
		for {
			c, err := p.peekByte()
			if err != nil || c == ':' || c == '/' || c == '\n' {
				break
			}
			p.readByte()
			name.WriteByte(c)
		}
		return p.attrKey(gamedb.NormalizeAttr(name.String())), nil
	}
	return "", fmt.Errorf("unexpected '%c' in boolexp at line %d", ch, p.line)
}

// attrKey finishes an attribute or evaluation key once its name is known.
// A name with no separator is a bare constant.
func (p *Parser) attrKey(name string) string {
	sep, _ := p.peekByte()
	if sep != ':' && sep != '/' {
		return name
	}
	p.readByte()
	var val strings.Builder
	for {
		c, err := p.peekByte()
		if err != nil || c == '\n' || c == ')' || c == '|' || c == '&' {
			break
		}
		p.readByte()
		val.WriteByte(c)
	}
	return name + string(sep) + val.String()
}

// parseEOF handles the ***END OF DUMP*** marker.
func (p *Parser) parseEOF() error {
	line, _ := p.readLine()
	if strings.TrimSpace(line) != "***END OF DUMP***" {
		return fmt.Errorf("bad EOF marker: %q", line)
	}
	return nil
}

func (p *Parser) peekByte() (byte, error) {
	b, err := p.reader.Peek(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (p *Parser) readByte() (byte, error) {
	b, err := p.reader.ReadByte()
	if b == '\n' {
		p.line++
	}
	return b, err
}

func (p *Parser) expectByte(expected byte) error {
	b, err := p.readByte()
	if err != nil {
		return err
	}
	if b != expected {
		return fmt.Errorf("expected '%c' got '%c' at line %d", expected, b, p.line)
	}
	return nil
}

func (p *Parser) consumeOptionalNewline() {
	if ch, err := p.peekByte(); err == nil && ch == '\n' {
		p.readByte()
	}
}

// readLine reads until end of line and returns the content (excluding newline).
func (p *Parser) readLine() (string, error) {
	line, err := p.reader.ReadString('\n')
	p.line++
	return strings.TrimRight(line, "\r\n"), err
}

// readInt reads a line and parses it as an integer.
func (p *Parser) readInt() (int, error) {
	line, err := p.readLine()
	if err != nil && err != io.EOF {
		return 0, err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, nil
	}
	return strconv.Atoi(line)
}

// readString reads a quoted string, or a plain line in older formats.
func (p *Parser) readString() (string, error) {
	ch, err := p.peekByte()
	if err != nil {
		return "", err
	}
	if ch == '"' {
		return p.readQuotedString(true)
	}
	return p.readLine()
}

// readQuotedString reads a "..." delimited string, handling escapes. With
// eol set the rest of the line is consumed.
func (p *Parser) readQuotedString(eol bool) (string, error) {
	p.readByte() // consume opening "

	var buf strings.Builder
	for {
		b, err := p.readByte()
		if err != nil {
			return buf.String(), err
		}
		switch b {
		case '"':
			if ch, err := p.peekByte(); eol && err == nil && (ch == '\n' || ch == '\r') {
				p.readLine()
			}
			return buf.String(), nil
		case '\\':
			next, err := p.readByte()
			if err != nil {
				return buf.String(), err
			}
			switch next {
			case 'n':
				buf.WriteByte('\n')
			case 'r':
				buf.WriteByte('\r')
			case 't':
				buf.WriteByte('\t')
			case '\\', '"':
				buf.WriteByte(next)
			default:
				buf.WriteByte('\\')
				buf.WriteByte(next)
			}
		default:
			buf.WriteByte(b)
		}
	}
}
