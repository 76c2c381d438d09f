package markup

import (
	"strconv"
	"strings"
)

const (
	ansiReset = "\033[0m"
	oscStart  = "\033]8;;"
	oscEnd    = "\033\\"
)

// Render produces terminal output. With ansi false the plain projection is
// returned so color-off clients never see escape sequences.
func (t Text) Render(ansi bool) string {
	if !ansi || len(t.spans) == 0 {
		return string(t.r)
	}
	var sb strings.Builder
	t.Segments(func(seg Text, st Style) {
		if st.IsZero() {
			sb.WriteString(string(seg.r))
			return
		}
		if st.Link != "" {
			sb.WriteString(oscStart + st.Link + oscEnd)
		}
		code := sgr(st)
		sb.WriteString(code)
		sb.WriteString(string(seg.r))
		if code != "" {
			sb.WriteString(ansiReset)
		}
		if st.Link != "" {
			sb.WriteString(oscStart + oscEnd)
		}
	})
	return sb.String()
}

// ParseANSI converts raw ANSI-escaped input into styled text. SGR sequences
// become spans, OSC 8 hyperlinks become Link styles, and any other escape
// sequence is dropped.
func ParseANSI(s string) Text {
	var b Builder
	var cur Style
	for i := 0; i < len(s); {
		if s[i] != 0x1b || i+1 >= len(s) {
			j := i + 1
			for j < len(s) && s[j] != 0x1b {
				j++
			}
			b.WriteStyled(s[i:j], cur)
			i = j
			continue
		}
		switch s[i+1] {
		case '[':
			j := i + 2
			for j < len(s) && (s[j] < 0x40 || s[j] > 0x7e) {
				j++
			}
			if j >= len(s) {
				return b.Text()
			}
			if s[j] == 'm' {
				cur = applySGR(cur, s[i+2:j])
			}
			i = j + 1
		case ']':
			end, body := oscBody(s, i+2)
			if strings.HasPrefix(body, "8;") {
				if k := strings.IndexByte(body[2:], ';'); k >= 0 {
					cur.Link = body[2+k+1:]
				}
			}
			i = end
		default:
			i += 2
		}
	}
	return b.Text()
}

// oscBody returns the index just past an OSC sequence starting at from and
// its payload. Both BEL and ST terminators are accepted.
func oscBody(s string, from int) (int, string) {
	for j := from; j < len(s); j++ {
		if s[j] == 0x07 {
			return j + 1, s[from:j]
		}
		if s[j] == 0x1b && j+1 < len(s) && s[j+1] == '\\' {
			return j + 2, s[from:j]
		}
	}
	return len(s), s[from:]
}

func applySGR(st Style, params string) Style {
	if params == "" {
		return Style{Link: st.Link}
	}
	parts := strings.Split(params, ";")
	for i := 0; i < len(parts); i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			continue
		}
		switch {
		case n == 0:
			st = Style{Link: st.Link}
		case n == 1:
			st.Bold = true
		case n == 4:
			st.Underline = true
		case n == 5:
			st.Blink = true
		case n == 7:
			st.Inverse = true
		case n == 22:
			st.Bold = false
		case n == 24:
			st.Underline = false
		case n == 25:
			st.Blink = false
		case n == 27:
			st.Inverse = false
		case n >= 30 && n <= 37:
			st.Fg = Indexed(uint8(n - 30))
		case n == 39:
			st.Fg = Color{}
		case n >= 40 && n <= 47:
			st.Bg = Indexed(uint8(n - 40))
		case n == 49:
			st.Bg = Color{}
		case n >= 90 && n <= 97:
			st.Fg = Indexed(uint8(n - 90 + 8))
		case n >= 100 && n <= 107:
			st.Bg = Indexed(uint8(n - 100 + 8))
		case n == 38 || n == 48:
			col, used := extendedColor(parts[i+1:])
			i += used
			if n == 38 {
				st.Fg = col
			} else {
				st.Bg = col
			}
		}
	}
	return st
}

// extendedColor decodes the arguments after 38/48 ("5;n" or "2;r;g;b") and
// reports how many parameters it consumed.
func extendedColor(args []string) (Color, int) {
	if len(args) == 0 {
		return Color{}, 0
	}
	num := func(k int) uint8 {
		v, _ := strconv.Atoi(args[k])
		return uint8(v)
	}
	switch args[0] {
	case "5":
		if len(args) >= 2 {
			return Indexed(num(1)), 2
		}
	case "2":
		if len(args) >= 4 {
			return TrueColor(num(1), num(2), num(3)), 4
		}
	}
	return Color{}, len(args)
}
