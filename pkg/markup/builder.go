package markup

// Builder accumulates styled text. The zero value is ready to use. A Builder
// must not be copied after first use.
type Builder struct {
	r     []rune
	spans []Span
}

// Len returns the number of runes written so far.
func (b *Builder) Len() int { return len(b.r) }

// WriteString appends unstyled text.
func (b *Builder) WriteString(s string) {
	b.r = append(b.r, []rune(s)...)
}

// WriteRune appends a single unstyled rune.
func (b *Builder) WriteRune(r rune) {
	b.r = append(b.r, r)
}

// WriteStyled appends s carrying st.
func (b *Builder) WriteStyled(s string, st Style) {
	start := len(b.r)
	b.r = append(b.r, []rune(s)...)
	b.addSpan(Span{Start: start, End: len(b.r), Style: st})
}

// WriteText appends t, offsetting its spans.
func (b *Builder) WriteText(t Text) {
	off := len(b.r)
	b.r = append(b.r, t.r...)
	for _, sp := range t.spans {
		b.addSpan(Span{Start: sp.Start + off, End: sp.End + off, Style: sp.Style})
	}
}

// addSpan appends a span that starts at or after every existing span,
// merging it into the previous one when they touch and share a style.
func (b *Builder) addSpan(sp Span) {
	if sp.Start >= sp.End || sp.Style.IsZero() {
		return
	}
	if n := len(b.spans); n > 0 {
		last := &b.spans[n-1]
		if last.End == sp.Start && last.Style == sp.Style {
			last.End = sp.End
			return
		}
	}
	b.spans = append(b.spans, sp)
}

// Text returns the accumulated value. The Builder may keep being used.
func (b *Builder) Text() Text {
	if len(b.r) == 0 {
		return Empty
	}
	t := Text{r: append([]rune(nil), b.r...)}
	if len(b.spans) > 0 {
		t.spans = append([]Span(nil), b.spans...)
	}
	return t
}

// Reset clears the builder.
func (b *Builder) Reset() {
	b.r = b.r[:0]
	b.spans = b.spans[:0]
}
