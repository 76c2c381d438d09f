// Package markup implements the rich-text value every evaluation works on:
// a sequence of runes plus non-overlapping style spans.
//
// Text values are immutable. Every operation returns a new value, so Texts
// can be shared freely between goroutines.
package markup

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/width"
)

// Span applies Style to the half-open rune range [Start, End).
type Span struct {
	Start int
	End   int
	Style Style
}

// Text is an immutable styled string.
//
// Invariants: spans are sorted, non-empty, non-overlapping, inside [0, Len()],
// never carry the zero style, and adjacent spans never share a style.
type Text struct {
	r     []rune
	spans []Span
}

// Empty is the empty Text.
var Empty = Text{}

// New wraps a plain string.
func New(s string) Text {
	if s == "" {
		return Empty
	}
	return Text{r: []rune(s)}
}

// Styled wraps s with a single style covering all of it.
func Styled(s string, st Style) Text {
	t := New(s)
	if st.IsZero() || len(t.r) == 0 {
		return t
	}
	t.spans = []Span{{Start: 0, End: len(t.r), Style: st}}
	return t
}

// Len returns the number of runes.
func (t Text) Len() int { return len(t.r) }

// IsEmpty reports whether the text has no characters.
func (t Text) IsEmpty() bool { return len(t.r) == 0 }

// Plain projects the text to an unstyled string.
func (t Text) Plain() string { return string(t.r) }

// String implements fmt.Stringer with the plain projection.
func (t Text) String() string { return string(t.r) }

// Spans returns a copy of the style spans.
func (t Text) Spans() []Span {
	if len(t.spans) == 0 {
		return nil
	}
	out := make([]Span, len(t.spans))
	copy(out, t.spans)
	return out
}

// HasStyle reports whether any span is present.
func (t Text) HasStyle() bool { return len(t.spans) > 0 }

// StripStyle returns the same characters with every span removed.
func (t Text) StripStyle() Text {
	if len(t.spans) == 0 {
		return t
	}
	return Text{r: t.r}
}

// StyleAt returns the style of the rune at index i.
func (t Text) StyleAt(i int) Style {
	for _, sp := range t.spans {
		if i < sp.Start {
			break
		}
		if i < sp.End {
			return sp.Style
		}
	}
	return Style{}
}

// Equal reports whether two texts have the same characters and styling.
func (t Text) Equal(o Text) bool {
	if len(t.r) != len(o.r) || len(t.spans) != len(o.spans) {
		return false
	}
	for i := range t.r {
		if t.r[i] != o.r[i] {
			return false
		}
	}
	for i := range t.spans {
		if t.spans[i] != o.spans[i] {
			return false
		}
	}
	return true
}

// Concat joins texts, offsetting each operand's spans.
func Concat(parts ...Text) Text {
	var b Builder
	for _, p := range parts {
		b.WriteText(p)
	}
	return b.Text()
}

// Join concatenates parts with sep between them.
func Join(parts []Text, sep Text) Text {
	var b Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteText(sep)
		}
		b.WriteText(p)
	}
	return b.Text()
}

// Substring returns runes [start, end), clamping both bounds. Spans are
// clipped to the result: a span that still partially covers the range is
// kept, nothing leaks past its original boundary.
func (t Text) Substring(start, end int) Text {
	if start < 0 {
		start = 0
	}
	if end > len(t.r) {
		end = len(t.r)
	}
	if start >= end {
		return Empty
	}
	out := Text{r: t.r[start:end:end]}
	for _, sp := range t.spans {
		s, e := max(sp.Start, start), min(sp.End, end)
		if s < e {
			out.spans = append(out.spans, Span{Start: s - start, End: e - start, Style: sp.Style})
		}
	}
	return out
}

// Index returns the rune index of the first occurrence of sub, or -1.
func (t Text) Index(sub string) int {
	return t.indexFrom(0, []rune(sub))
}

func (t Text) indexFrom(from int, sub []rune) int {
	if len(sub) == 0 {
		return from
	}
outer:
	for i := from; i+len(sub) <= len(t.r); i++ {
		for j, c := range sub {
			if t.r[i+j] != c {
				continue outer
			}
		}
		return i
	}
	return -1
}

// Split cuts the text around every occurrence of sep. An empty sep splits
// on runs of spaces (the default list delimiter) and drops empty fields.
func (t Text) Split(sep string) []Text {
	if sep == "" || sep == " " {
		return t.Fields()
	}
	sr := []rune(sep)
	var out []Text
	start := 0
	for {
		i := t.indexFrom(start, sr)
		if i < 0 {
			break
		}
		out = append(out, t.Substring(start, i))
		start = i + len(sr)
	}
	return append(out, t.Substring(start, len(t.r)))
}

// Fields splits on runs of ASCII spaces.
func (t Text) Fields() []Text {
	var out []Text
	i := 0
	for i < len(t.r) {
		for i < len(t.r) && t.r[i] == ' ' {
			i++
		}
		j := i
		for j < len(t.r) && t.r[j] != ' ' {
			j++
		}
		if j > i {
			out = append(out, t.Substring(i, j))
		}
		i = j
	}
	return out
}

// TrimLeft removes leading spaces.
func (t Text) TrimLeft() Text {
	i := 0
	for i < len(t.r) && t.r[i] == ' ' {
		i++
	}
	return t.Substring(i, len(t.r))
}

// TrimRight removes trailing spaces.
func (t Text) TrimRight() Text {
	j := len(t.r)
	for j > 0 && t.r[j-1] == ' ' {
		j--
	}
	return t.Substring(0, j)
}

// TrimSpace removes leading and trailing spaces.
func (t Text) TrimSpace() Text {
	return t.TrimLeft().TrimRight()
}

// TrimRunes removes leading and trailing runes for which drop returns true.
func (t Text) TrimRunes(drop func(rune) bool) Text {
	i, j := 0, len(t.r)
	for i < j && drop(t.r[i]) {
		i++
	}
	for j > i && drop(t.r[j-1]) {
		j--
	}
	return t.Substring(i, j)
}

// CompressSpaces collapses every run of spaces into one space.
func (t Text) CompressSpaces() Text {
	var b Builder
	i := 0
	for i < len(t.r) {
		j := i
		for j < len(t.r) && t.r[j] != ' ' {
			j++
		}
		b.WriteText(t.Substring(i, j))
		if j < len(t.r) {
			b.WriteText(t.Substring(j, j+1))
			for j < len(t.r) && t.r[j] == ' ' {
				j++
			}
		}
		i = j
	}
	return b.Text()
}

// Repeat returns n copies of t.
func (t Text) Repeat(n int) Text {
	var b Builder
	for i := 0; i < n; i++ {
		b.WriteText(t)
	}
	return b.Text()
}

// Reverse reverses the runes; spans follow their characters.
func (t Text) Reverse() Text {
	var b Builder
	for i := len(t.r) - 1; i >= 0; i-- {
		b.WriteStyled(string(t.r[i]), t.StyleAt(i))
	}
	return b.Text()
}

// Apply layers st under the text's own styling: runes without a style get
// st, styled runes keep their attributes and inherit the rest from st.
func (t Text) Apply(st Style) Text {
	if st.IsZero() || len(t.r) == 0 {
		return t
	}
	var b Builder
	t.Segments(func(seg Text, own Style) {
		b.WriteStyled(seg.Plain(), own.Over(st))
	})
	return b.Text()
}

// Segments calls fn for each maximal run of uniformly styled runes.
func (t Text) Segments(fn func(seg Text, st Style)) {
	pos := 0
	for _, sp := range t.spans {
		if sp.Start > pos {
			fn(Text{r: t.r[pos:sp.Start:sp.Start]}, Style{})
		}
		fn(Text{r: t.r[sp.Start:sp.End:sp.End]}, sp.Style)
		pos = sp.End
	}
	if pos < len(t.r) {
		fn(Text{r: t.r[pos:]}, Style{})
	}
}

// mapSegments transforms the characters of each segment, keeping its style.
// The transform may change the segment length.
func (t Text) mapSegments(f func(string) string) Text {
	var b Builder
	t.Segments(func(seg Text, st Style) {
		b.WriteStyled(f(seg.Plain()), st)
	})
	return b.Text()
}

// ToUpper applies Unicode upper-casing.
func (t Text) ToUpper() Text {
	return t.mapSegments(func(s string) string {
		return cases.Upper(language.Und).String(s)
	})
}

// ToLower applies Unicode lower-casing.
func (t Text) ToLower() Text {
	return t.mapSegments(func(s string) string {
		return cases.Lower(language.Und).String(s)
	})
}

// Capitalize upper-cases the first rune.
func (t Text) Capitalize() Text {
	if len(t.r) == 0 {
		return t
	}
	head := t.Substring(0, 1).ToUpper()
	return Concat(head, t.Substring(1, len(t.r)))
}

// Width returns the display width in terminal columns: wide and fullwidth
// East Asian runes count two, combining marks count zero.
func (t Text) Width() int {
	n := 0
	for _, r := range t.r {
		n += runeWidth(r)
	}
	return n
}

func runeWidth(r rune) int {
	if unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Me, r) {
		return 0
	}
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return 2
	}
	return 1
}

// ContainsRune reports whether r occurs in the text.
func (t Text) ContainsRune(r rune) bool {
	for _, c := range t.r {
		if c == r {
			return true
		}
	}
	return false
}

// EqualFold compares plain projections case-insensitively.
func (t Text) EqualFold(s string) bool {
	return strings.EqualFold(string(t.r), s)
}
