package markup

import (
	"strconv"
	"strings"
)

// Color is a terminal color. The zero value means "not set".
type Color struct {
	Set   bool
	RGB   bool
	Index uint8 // xterm index when !RGB (0-15 are the classic ANSI colors)
	R     uint8
	G     uint8
	B     uint8
}

// Indexed returns a palette color.
func Indexed(n uint8) Color {
	return Color{Set: true, Index: n}
}

// TrueColor returns a 24-bit color.
func TrueColor(r, g, b uint8) Color {
	return Color{Set: true, RGB: true, R: r, G: g, B: b}
}

// Style is the set of attributes carried by a span. Styles are comparable so
// that adjacent spans with equal style can be merged.
type Style struct {
	Fg        Color
	Bg        Color
	Bold      bool
	Underline bool
	Blink     bool
	Inverse   bool
	Link      string
}

// IsZero reports whether the style carries no attributes.
func (s Style) IsZero() bool {
	return s == Style{}
}

// Over layers s on top of base: every attribute set in s wins, everything
// else is inherited from base.
func (s Style) Over(base Style) Style {
	out := base
	if s.Fg.Set {
		out.Fg = s.Fg
	}
	if s.Bg.Set {
		out.Bg = s.Bg
	}
	out.Bold = out.Bold || s.Bold
	out.Underline = out.Underline || s.Underline
	out.Blink = out.Blink || s.Blink
	out.Inverse = out.Inverse || s.Inverse
	if s.Link != "" {
		out.Link = s.Link
	}
	return out
}

// Classic color letters used by %x and ansi(). Lowercase is foreground,
// uppercase background.
var colorLetters = map[byte]uint8{
	'x': 0, // black
	'r': 1,
	'g': 2,
	'y': 3,
	'b': 4,
	'm': 5,
	'c': 6,
	'w': 7,
}

var colorNames = map[string]uint8{
	"black":   0,
	"red":     1,
	"green":   2,
	"yellow":  3,
	"blue":    4,
	"magenta": 5,
	"cyan":    6,
	"white":   7,
}

// ColorCode maps a single %x / ansi() code letter onto a style change.
// reset is true for 'n' (return to normal).
func ColorCode(ch byte) (st Style, reset bool, ok bool) {
	switch ch {
	case 'n', 'N':
		return Style{}, true, true
	case 'h', 'H':
		return Style{Bold: true}, false, true
	case 'i', 'I':
		return Style{Inverse: true}, false, true
	case 'f', 'F':
		return Style{Blink: true}, false, true
	case 'u', 'U':
		return Style{Underline: true}, false, true
	}
	if n, found := colorLetters[ch]; found {
		return Style{Fg: Indexed(n)}, false, true
	}
	if ch >= 'A' && ch <= 'Z' {
		if n, found := colorLetters[ch+('a'-'A')]; found {
			return Style{Bg: Indexed(n)}, false, true
		}
	}
	return Style{}, false, false
}

// ParseColorSpec parses the inside of an extended color code such as
// %x<208>, %x<#ff5733> or %x<red>.
func ParseColorSpec(spec string) (Color, bool) {
	spec = strings.TrimSpace(strings.ToLower(spec))
	if spec == "" {
		return Color{}, false
	}
	if n, ok := colorNames[spec]; ok {
		return Indexed(n), true
	}
	hex := strings.TrimPrefix(spec, "#")
	if len(hex) == 6 && (spec[0] == '#' || !isDecimal(hex)) {
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return Color{}, false
		}
		return TrueColor(uint8(v>>16), uint8(v>>8), uint8(v)), true
	}
	n, err := strconv.Atoi(spec)
	if err != nil || n < 0 || n > 255 {
		return Color{}, false
	}
	return Indexed(uint8(n)), true
}

// ParseCodes applies a run of ansi() codes ("hr", "<208>", "/<#000080>") and
// returns the resulting style.
func ParseCodes(codes string) Style {
	var st Style
	for i := 0; i < len(codes); i++ {
		c := codes[i]
		bg := false
		if c == '/' && i+1 < len(codes) && codes[i+1] == '<' {
			bg = true
			i++
			c = codes[i]
		}
		if c == '<' {
			end := strings.IndexByte(codes[i+1:], '>')
			if end < 0 {
				break
			}
			if col, ok := ParseColorSpec(codes[i+1 : i+1+end]); ok {
				if bg {
					st.Bg = col
				} else {
					st.Fg = col
				}
			}
			i += end + 1
			continue
		}
		code, reset, ok := ColorCode(c)
		if !ok {
			continue
		}
		if reset {
			st = Style{}
			continue
		}
		st = code.Over(st)
	}
	return st
}

func isDecimal(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// sgr returns the ANSI SGR sequence that switches a terminal from the
// default state to st.
func sgr(st Style) string {
	var codes []string
	if st.Bold {
		codes = append(codes, "1")
	}
	if st.Underline {
		codes = append(codes, "4")
	}
	if st.Blink {
		codes = append(codes, "5")
	}
	if st.Inverse {
		codes = append(codes, "7")
	}
	if st.Fg.Set {
		codes = append(codes, colorSGR(st.Fg, false))
	}
	if st.Bg.Set {
		codes = append(codes, colorSGR(st.Bg, true))
	}
	if len(codes) == 0 {
		return ""
	}
	return "\033[" + strings.Join(codes, ";") + "m"
}

func colorSGR(c Color, bg bool) string {
	base := 30
	bright := 90
	ext := "38"
	if bg {
		base, bright, ext = 40, 100, "48"
	}
	switch {
	case c.RGB:
		return ext + ";2;" + strconv.Itoa(int(c.R)) + ";" + strconv.Itoa(int(c.G)) + ";" + strconv.Itoa(int(c.B))
	case c.Index < 8:
		return strconv.Itoa(base + int(c.Index))
	case c.Index < 16:
		return strconv.Itoa(bright + int(c.Index) - 8)
	default:
		return ext + ";5;" + strconv.Itoa(int(c.Index))
	}
}
