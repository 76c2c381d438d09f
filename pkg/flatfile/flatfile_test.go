package flatfile

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
)

// A TinyMUSH 2 style dump: header locks, one user attribute and a
// terse wizard whose first flag word went negative.
const sampleDump = `+V598785
+A256
0:SECRET
!0
"Limbo"
-1
-1
1
-1
-1
-1

1
-1
0
0
0
<
!1
"Wizard"
0
-1
-1
-1
0
2

1
-1
0
-2147483629
0
>6
"The boss."
<
!2
"Widget;wid"
0
-1
-1
-1
-1
-1
(1|2)
1
-1
0
1
0
>6
"A widget\nwith two lines."
>256
"^A1:0:think secret"
<
***END OF DUMP***
`

func parseSample(t *testing.T) *gamedb.Database {
	t.Helper()
	db, err := Parse(strings.NewReader(strings.ReplaceAll(sampleDump, "^A", "\x01")))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return db
}

func TestParse(t *testing.T) {
	db := parseSample(t)
	if len(db.Objects) != 3 {
		t.Fatalf("got %d objects, want 3", len(db.Objects))
	}

	tests := []struct {
		ref   gamedb.DBRef
		name  string
		typ   gamedb.ObjectType
		loc   gamedb.DBRef
		owner gamedb.DBRef
	}{
		{0, "Limbo", gamedb.TypeRoom, gamedb.Nothing, 1},
		{1, "Wizard", gamedb.TypePlayer, 0, 1},
		{2, "Widget;wid", gamedb.TypeThing, 0, 1},
	}
	for _, tt := range tests {
		o := db.Objects[tt.ref]
		if o == nil {
			t.Errorf("#%d missing", tt.ref)
			continue
		}
		if o.Name != tt.name || o.Type != tt.typ || o.Location != tt.loc || o.Owner != tt.owner {
			t.Errorf("#%d = %q %v loc=%d owner=%d; want %q %v loc=%d owner=%d",
				tt.ref, o.Name, o.Type, o.Location, o.Owner, tt.name, tt.typ, tt.loc, tt.owner)
		}
	}

	wiz := db.Objects[1]
	if !wiz.IsWizard() || !wiz.HasFlag("TERSE") {
		t.Errorf("wizard flags = %v, want WIZARD and TERSE", wiz.FlagNames())
	}
	if wiz.Attrs["DESC"] != "The boss." {
		t.Errorf("wizard DESC = %q", wiz.Attrs["DESC"])
	}

	w := db.Objects[2]
	if got := w.Attrs["LOCK"]; got != "(#1|#2)" {
		t.Errorf("lock = %q, want (#1|#2)", got)
	}
	if got := w.Attrs["SECRET"]; got != "think secret" {
		t.Errorf("SECRET = %q, want prefix stripped", got)
	}
	if got := w.Attrs["DESC"]; got != "A widget\nwith two lines." {
		t.Errorf("DESC = %q", got)
	}
	if _, ok := db.Objects[0].Attrs["LOCK"]; ok {
		t.Error("an empty header lock should not be stored")
	}
}

func TestParseRejectsTruncatedDump(t *testing.T) {
	cut := sampleDump[:strings.Index(sampleDump, "***END")]
	if _, err := Parse(strings.NewReader(cut)); err == nil {
		t.Error("expected an error for a dump without an end marker")
	}
}

func TestBoolExpKeys(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"5\n", "#5"},
		{"(!5)\n", "!#5"},
		{"(@7)\n", "@#7"},
		{"((1&2)|3)\n", "((#1&#2)|#3)"},
		{"6:*widget*\n", "DESC:*widget*"},
		{"\"SEX\":m*\n", "SEX:m*"},
		{"(=1)\n", "=#1"},
		{"\n", ""},
	}
	for _, tt := range tests {
		p := &Parser{
			reader:    bufioReader(tt.in),
			attrNames: map[int]string{},
		}
		got, err := p.readBoolExp()
		if err != nil {
			t.Errorf("readBoolExp(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("readBoolExp(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func bufioReader(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestWriteRoundTrip(t *testing.T) {
	db := parseSample(t)
	var buf bytes.Buffer
	if err := Write(&buf, db); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "+T") || !strings.HasSuffix(out, "***END OF DUMP***\n") {
		t.Fatalf("unexpected framing:\n%s", out)
	}
	if !strings.Contains(out, "+A256\n0:SECRET\n") {
		t.Errorf("missing user attribute definition:\n%s", out)
	}

	back, err := Parse(&buf)
	if err != nil {
		t.Fatalf("Parse written dump: %v", err)
	}
	for ref, want := range db.Objects {
		got := back.Objects[ref]
		if got == nil {
			t.Errorf("#%d lost", ref)
			continue
		}
		if got.Name != want.Name || got.Type != want.Type || got.Flags != want.Flags || got.Location != want.Location {
			t.Errorf("#%d = %+v, want %+v", ref, got, want)
		}
		if len(got.Attrs) != len(want.Attrs) {
			t.Errorf("#%d attrs = %v, want %v", ref, got.Attrs, want.Attrs)
		}
		for k, v := range want.Attrs {
			if got.Attrs[k] != v {
				t.Errorf("#%d %s = %q, want %q", ref, k, got.Attrs[k], v)
			}
		}
	}
}

func TestBuildChains(t *testing.T) {
	objs, _ := parseSample(t).Snapshot()
	c := buildChains(objs)
	if got := c.lookup(c.contents, 0); got != 1 {
		t.Errorf("contents(#0) = #%d, want #1", got)
	}
	if got := c.lookup(c.next, 1); got != 2 {
		t.Errorf("next(#1) = #%d, want #2", got)
	}
	if got := c.lookup(c.next, 2); got != gamedb.Nothing {
		t.Errorf("next(#2) = #%d, want -1", got)
	}
}

const sampleComsys = `+V4
"Public"
1
0
0
0
12
"General chatter"
"[Public]"
-
-
-
<
"Staff"
1
0
0
0
0
"Staff only"
""
(1|2)
-
-
-
<
+V1
1
"Public"
"pub"
""
1
<
2
"public"
"p"
"the widget"
0
<
1
"Staff"
"st"
""
1
<
*** END OF DUMP ***
`

func TestParseComsys(t *testing.T) {
	channels, err := ParseComsys(strings.NewReader(sampleComsys))
	if err != nil {
		t.Fatalf("ParseComsys: %v", err)
	}
	if len(channels) != 2 {
		t.Fatalf("got %d channels, want 2", len(channels))
	}
	pub := channels[0]
	if pub.Name != "Public" || pub.Owner != 1 || pub.Description != "General chatter" {
		t.Errorf("Public = %+v", pub)
	}
	if !pub.Members[1] {
		t.Error("#1 should be a member of Public")
	}
	if pub.Members[2] {
		t.Error("#2 is not listening and should not be a member")
	}
	if !channels[1].Members[1] {
		t.Error("#1 should be a member of Staff")
	}
}

func TestParseComsysBadHeader(t *testing.T) {
	if _, err := ParseComsys(strings.NewReader("Public\n")); err == nil {
		t.Error("expected an error for a missing +V header")
	}
	if _, err := ParseComsys(strings.NewReader("")); err == nil {
		t.Error("expected an error for an empty file")
	}
}
